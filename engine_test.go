package folio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/answer"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/notify"
	"github.com/poiesic/folio/vectorstore"
)

const (
	revenuePage = "Revenue growth was strong: revenue grew 23% in Q3, driven by subscription renewals and enterprise expansion."
	risksPage   = "Risks include currency exposure in European markets and rising interest rates on variable-rate debt."
)

// brokenVectors accepts writes and fails every query.
type brokenVectors struct{}

func (brokenVectors) Upsert(context.Context, []*core.VectorRecord) error { return nil }

func (brokenVectors) Query(context.Context, []float32, int, vectorstore.Filter) ([]core.Match, error) {
	return nil, errors.New("index offline")
}

func (brokenVectors) DeleteByFilter(context.Context, vectorstore.Filter) (int, error) {
	return 0, vectorstore.ErrNoVectorsFound
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *mock.MockProvider, *notify.Recorder) {
	t.Helper()
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockCompleter())
	provider.GetMockCompleter().CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return "Revenue grew 23% in Q3 [p. 5].", nil
	}
	events := &notify.Recorder{}

	opts = append([]Option{WithInMemory(), WithProvider(provider), WithNotifier(events)}, opts...)
	e, err := NewEngine("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, provider, events
}

func annualReport() *core.Document {
	return &core.Document{
		Title: "Annual report",
		Pages: []core.Page{
			{Number: 5, Text: revenuePage},
			{Number: 12, Text: risksPage},
		},
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("on disk", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "folio_db")
		e, err := NewEngine(dir, WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		assert.NotNil(t, e.backend)
		assert.NoError(t, e.Close())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("test"), 0644))

		e, err := NewEngine(file, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, e)
	})
}

func TestEngine_HappyPath(t *testing.T) {
	e, _, events := newTestEngine(t)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "Annual report", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessingPending, conv.ProcessingStatus)

	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))
	conv, err = e.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProcessingCompleted, conv.ProcessingStatus)
	assert.True(t, events.Has(conv.ID, notify.EventIngestionComplete))

	question, reply, err := e.Ask(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, core.MessageCompleted, question.Status)
	assert.Equal(t, question.ID, reply.ParentMessageID)
	assert.Contains(t, reply.Text, "[p. 5]")
	assert.Contains(t, reply.FormattedText, "Sources: p. 5")

	var pages []int
	for _, ref := range reply.References {
		pages = append(pages, ref.PageNumber)
	}
	assert.Contains(t, pages, 5)

	msgs, err := e.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
}

func TestEngine_EmptyDocument(t *testing.T) {
	e, provider, _ := newTestEngine(t)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "blank", "")
	require.NoError(t, err)

	err = e.IngestText(ctx, conv.ID, "  \n\n  ")
	assert.ErrorIs(t, err, core.ErrEmptyDocument)

	conv, err = e.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProcessingFailed, conv.ProcessingStatus)
	assert.Zero(t, provider.GetMockEmbedder().CallCount(), "no vectors written")
}

func TestEngine_RetrievalFailureFallsBackToNotFound(t *testing.T) {
	e, provider, _ := newTestEngine(t, WithVectorProvider(brokenVectors{}))
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "Annual report", "")
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))

	question, reply, err := e.Ask(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, answer.NotFoundText, reply.Text)
	assert.Contains(t, reply.Text, "couldn't find relevant information")
	assert.Equal(t, core.MessageCompleted, question.Status)
	assert.Empty(t, question.Error)
	assert.Zero(t, provider.GetMockCompleter().CallCount())
}

func TestEngine_QuestionQueuedUntilIngested(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "Annual report", "")
	require.NoError(t, err)

	question, reply, err := e.Ask(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, core.MessagePending, question.Status)

	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))
	e.Wait()

	msgs, err := e.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.MessageCompleted, msgs[0].Status)
	assert.Equal(t, question.ID, msgs[1].ParentMessageID)

	// Answering again is a no-op that returns the stored reply.
	again, err := e.Answer(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs[1].ID, again.ID)
}

func TestEngine_QuestionCaughtByReingestIsAnswered(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "Annual report", "")
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))

	question, err := e.answers.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	require.Equal(t, core.MessageProcessing, question.Status)

	_, err = e.conversations.SetProcessingStatus(ctx, conv.ID, core.ProcessingProcessing)
	require.NoError(t, err)
	reply, err := e.Answer(ctx, question.ID)
	require.NoError(t, err)
	assert.Nil(t, reply)

	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))
	e.Wait()

	stored, err := e.messages.GetMessage(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageCompleted, stored.Status)
	found, err := e.messages.FindReply(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, question.ID, found.ParentMessageID)
}

func TestEngine_AnswerFailureReturnsApology(t *testing.T) {
	e, provider, _ := newTestEngine(t)
	ctx := context.Background()
	provider.GetMockCompleter().CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return "", errors.New("model unavailable")
	}

	conv, err := e.CreateConversation(ctx, "Annual report", "")
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))

	question, reply, err := e.Ask(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, ApologyText, reply.Text)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Contains(t, reply.Error, "model unavailable")
	assert.Equal(t, core.MessageError, question.Status)

	msgs, err := e.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "the apology is not stored")
}

func TestEngine_IngestFile(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "handbook.txt")
	require.NoError(t, os.WriteFile(path, []byte(revenuePage+"\f"+risksPage), 0644))

	conv, err := e.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "handbook", conv.Title)
	assert.Equal(t, path, conv.FileRef)
	assert.Equal(t, core.ProcessingCompleted, conv.ProcessingStatus)

	convs, err := e.Conversations(ctx)
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	_, err = e.IngestFile(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestEngine_PurgeVectors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "Annual report", "")
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, conv.ID, annualReport()))

	require.NoError(t, e.PurgeVectors(ctx, conv.ID))
	require.NoError(t, e.PurgeVectors(ctx, conv.ID), "purging an empty conversation is not an error")

	_, reply, err := e.Ask(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	assert.Equal(t, answer.NotFoundText, reply.Text)

	assert.ErrorIs(t, e.PurgeVectors(ctx, ""), vectorstore.ErrFilterRequired)
}

func TestEngine_Reingest(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "handbook.txt")
	require.NoError(t, os.WriteFile(path, []byte(revenuePage+"\f"+risksPage), 0644))
	conv, err := e.IngestFile(ctx, path)
	require.NoError(t, err)

	// The document shrinks to one page; the old second page must not linger.
	require.NoError(t, os.WriteFile(path, []byte(revenuePage), 0644))
	require.NoError(t, e.Reingest(ctx, conv.ID))

	fresh, err := e.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProcessingCompleted, fresh.ProcessingStatus)

	query, err := e.provider.Embedder().EmbedText(ctx, "revenue risks")
	require.NoError(t, err)
	matches := e.vectors.Query(ctx, query, 50, vectorstore.Filter{ConversationID: conv.ID})
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, 1, m.Metadata.PageNumber)
	}

	untitled, err := e.CreateConversation(ctx, "Pasted", "")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Reingest(ctx, untitled.ID), ErrNoSourceFile)
}
