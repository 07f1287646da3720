package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
)

func testReferences() []core.Reference {
	return []core.Reference{
		{Text: "Revenue grew 23% in Q3 on subscription renewals.", PageNumber: 5, SectionTitle: "Results", PageType: core.PageTypeContent},
		{Text: "Risks include currency exposure in Europe.", PageNumber: 12, PageType: core.PageTypeContent},
	}
}

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.ErrorIs(t, err, ErrCompleterRequired)

	_, err = NewGenerator(mock.NewMockCompleter(), WithMaxExcerptRunes(0))
	assert.Error(t, err)
}

func TestGenerate_NoReferencesSkipsModel(t *testing.T) {
	completer := mock.NewMockCompleter()
	g, err := NewGenerator(completer)
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), Request{Question: "What was revenue growth?"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Contains(t, res.Text, "couldn't find relevant information")
	assert.Equal(t, core.ContentTypeText, res.ContentType)
	assert.Zero(t, completer.CallCount())
}

func TestGenerate_PromptAndSources(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return "  Revenue grew 23% in Q3 [p. 5].  ", nil
	}
	g, err := NewGenerator(completer)
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), Request{
		Question:   "What was revenue growth?",
		References: testReferences(),
		History:    []Exchange{{Question: "What is this report?", Answer: "An annual report [p. 1]."}},
	})
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, "Revenue grew 23% in Q3 [p. 5].", res.Text)
	assert.Equal(t, "Revenue grew 23% in Q3 [p. 5].\n\nSources: p. 5", res.FormattedText)
	assert.Equal(t, core.ContentTypeMarkdown, res.ContentType)
	assert.Len(t, res.References, 2)

	msgs := completer.LastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ai.ChatRoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[p. N]")
	assert.Equal(t, ai.ChatRoleUser, msgs[1].Role)

	user := msgs[1].Content
	assert.Contains(t, user, "User: What is this report?")
	assert.Contains(t, user, `[1] (p. 5, section "Results")`)
	assert.Contains(t, user, "[2] (p. 12)")
	assert.True(t, strings.HasSuffix(user, "Question: What was revenue growth?"))
	assert.Less(t, strings.Index(user, "Earlier in this conversation"), strings.Index(user, "Document excerpts"))
}

func TestGenerate_Errors(t *testing.T) {
	completer := mock.NewMockCompleter()
	g, err := NewGenerator(completer)
	require.NoError(t, err)

	completer.CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return "", errors.New("model overloaded")
	}
	_, err = g.Generate(context.Background(), Request{Question: "q", References: testReferences()})
	assert.ErrorContains(t, err, "model overloaded")

	completer.CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return " \n ", nil
	}
	_, err = g.Generate(context.Background(), Request{Question: "q", References: testReferences()})
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestFormatWithSources(t *testing.T) {
	refs := testReferences()
	assert.Equal(t, "a [p. 12] b [p.5] c [p. 12]\n\nSources: p. 12, p. 5",
		formatWithSources("a [p. 12] b [p.5] c [p. 12]", refs))
	assert.Equal(t, "no citations\n\nSources: p. 5, p. 12", formatWithSources("no citations", refs))
	assert.Equal(t, "only [p. 12]\n\nSources: p. 12", formatWithSources("only [p. 12]", refs),
		"uncited reference pages are left out")
}

func TestBuildUserPrompt_TruncatesExcerpts(t *testing.T) {
	req := Request{
		Question:   "q",
		References: []core.Reference{{Text: strings.Repeat("é", 50), PageNumber: 3}},
	}
	prompt := buildUserPrompt(req, 10)
	assert.Contains(t, prompt, strings.Repeat("é", 10)+"…")
	assert.NotContains(t, prompt, strings.Repeat("é", 11))
	assert.NotContains(t, prompt, "Earlier in this conversation")
}
