package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/answer"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/notify"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
)

type fakeRanker struct {
	mu        sync.Mutex
	questions []string
	rank      func(question string) ([]core.Reference, error)
}

func (f *fakeRanker) Rank(_ context.Context, question, _ string, _ int) ([]core.Reference, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	if f.rank == nil {
		return []core.Reference{{Text: "Revenue grew 23% in Q3.", PageNumber: 5, PageType: core.PageTypeContent}}, nil
	}
	return f.rank(question)
}

func (f *fakeRanker) Questions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...)
}

type fixture struct {
	convs     storage.ConversationRepository
	msgs      storage.MessageRepository
	ranker    *fakeRanker
	completer *mock.MockCompleter
	events    *notify.Recorder
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	convs, msgs, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		msgs.Close()
		convs.Close()
		backend.Close()
	})

	f := &fixture{
		convs:     convs,
		msgs:      msgs,
		ranker:    &fakeRanker{},
		completer: mock.NewMockCompleter(),
		events:    &notify.Recorder{},
	}
	f.completer.CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		return "Revenue grew 23% [p. 5].", nil
	}
	generator, err := answer.NewGenerator(f.completer)
	require.NoError(t, err)

	f.pipeline, err = NewPipeline(convs, msgs, f.ranker, generator, WithNotifier(f.events))
	require.NoError(t, err)
	return f
}

func (f *fixture) conversation(t *testing.T, status core.ProcessingStatus) *core.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := f.convs.AddConversation(ctx, &core.Conversation{Title: "report"})
	require.NoError(t, err)
	conv, err = f.convs.SetProcessingStatus(ctx, conv.ID, status)
	require.NoError(t, err)
	return conv
}

func (f *fixture) replies(t *testing.T, conversationID string) []*core.Message {
	t.Helper()
	all, err := f.msgs.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	var out []*core.Message
	for _, m := range all {
		if m.Role == core.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	gen, err := answer.NewGenerator(mock.NewMockCompleter())
	require.NoError(t, err)

	_, err = NewPipeline(nil, f.msgs, f.ranker, gen)
	assert.ErrorIs(t, err, ErrConversationRepositoryRequired)
	_, err = NewPipeline(f.convs, nil, f.ranker, gen)
	assert.ErrorIs(t, err, ErrMessageRepositoryRequired)
	_, err = NewPipeline(f.convs, f.msgs, nil, gen)
	assert.ErrorIs(t, err, ErrRankerRequired)
	_, err = NewPipeline(f.convs, f.msgs, f.ranker, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
	_, err = NewPipeline(f.convs, f.msgs, f.ranker, gen, WithHistoryBudget(100, 1))
	assert.Error(t, err)
}

func TestAnswer_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	assert.Equal(t, core.MessageProcessing, msg.Status)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Equal(t, msg.ID, reply.ParentMessageID)
	assert.Equal(t, "Revenue grew 23% [p. 5].", reply.Text)
	assert.Contains(t, reply.FormattedText, "Sources: p. 5")
	require.Len(t, reply.References, 1)
	assert.Equal(t, 5, reply.References[0].PageNumber)

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageCompleted, stored.Status)
	assert.Empty(t, stored.Error)

	assert.True(t, f.events.Has(conv.ID, notify.EventThinking))
	assert.True(t, f.events.Has(conv.ID, notify.EventAnswerComplete))

	// Answering again returns the same reply without another completion.
	again, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, again.ID)
	assert.Equal(t, 1, f.completer.CallCount())
}

func TestAnswer_ConversationNotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingProcessing)

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	assert.Equal(t, core.MessagePending, msg.Status)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, reply)

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessagePending, stored.Status)
	assert.Empty(t, f.ranker.Questions())
}

func TestAnswer_ProcessingMessageReturnsToQueueWhileReindexing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	require.Equal(t, core.MessageProcessing, msg.Status)

	// The document is re-ingested before the answer starts.
	_, err = f.convs.SetProcessingStatus(ctx, conv.ID, core.ProcessingProcessing)
	require.NoError(t, err)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, reply)

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessagePending, stored.Status)

	_, err = f.convs.SetProcessingStatus(ctx, conv.ID, core.ProcessingCompleted)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessPending(ctx, conv.ID))

	stored, err = f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageCompleted, stored.Status)
	assert.Len(t, f.replies(t, conv.ID), 1)
}

func TestAnswer_ConcurrentCallersStoreOneReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingProcessing)

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	_, err = f.convs.SetProcessingStatus(ctx, conv.ID, core.ProcessingCompleted)
	require.NoError(t, err)

	f.completer.CompleteFunc = func(context.Context, []ai.ChatMessage) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "Revenue grew 23% [p. 5].", nil
	}

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*core.Message
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			reply, err := f.pipeline.Answer(ctx, msg.ID)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, reply)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	replies := f.replies(t, conv.ID)
	require.Len(t, replies, 1)
	for _, r := range results {
		if r != nil {
			assert.Equal(t, replies[0].ID, r.ID)
		}
	}

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageCompleted, stored.Status)
}

func TestAnswer_RetrievalFailureMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)
	f.ranker.rank = func(string) ([]core.Reference, error) {
		return nil, errors.New("embedding provider unavailable")
	}

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	assert.ErrorContains(t, err, "embedding provider unavailable")
	assert.Nil(t, reply)

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageError, stored.Status)
	assert.Contains(t, stored.Error, "embedding provider unavailable")
	assert.Empty(t, f.replies(t, conv.ID))
	assert.True(t, f.events.Has(conv.ID, notify.EventError))

	// An errored message is settled: no reply, no error.
	reply, err = f.pipeline.Answer(ctx, msg.ID)
	assert.NoError(t, err)
	assert.Nil(t, reply)
}

func TestAnswer_NoReferencesIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)
	f.ranker.rank = func(string) ([]core.Reference, error) { return nil, nil }

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What is the capital of France?")
	require.NoError(t, err)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, answer.NotFoundText, reply.Text)
	assert.Zero(t, f.completer.CallCount())

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageCompleted, stored.Status)
}

func TestAnswer_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)
	f.ranker.rank = func(string) ([]core.Reference, error) { panic("index out of range") }

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)

	reply, err := f.pipeline.Answer(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrAnswerPanic)
	assert.Nil(t, reply)

	stored, err := f.msgs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MessageError, stored.Status)
	assert.Contains(t, stored.Error, "index out of range")
}

func TestAnswer_RejectsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)

	msg, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	reply, err := f.pipeline.Answer(ctx, msg.ID)
	require.NoError(t, err)

	_, err = f.pipeline.Answer(ctx, reply.ID)
	assert.ErrorIs(t, err, ErrNotUserMessage)

	_, err = f.pipeline.Answer(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessPending_InOrderWithIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingProcessing)

	questions := []string{"first question", "boom", "third question"}
	var ids []string
	for _, q := range questions {
		msg, err := f.pipeline.Submit(ctx, conv.ID, q)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	f.ranker.rank = func(q string) ([]core.Reference, error) {
		if q == "boom" {
			return nil, errors.New("vector store down")
		}
		return []core.Reference{{Text: "passage", PageNumber: 2}}, nil
	}

	_, err := f.convs.SetProcessingStatus(ctx, conv.ID, core.ProcessingCompleted)
	require.NoError(t, err)

	err = f.pipeline.ProcessPending(ctx, conv.ID)
	assert.ErrorContains(t, err, "vector store down")
	assert.Equal(t, questions, f.ranker.Questions())

	want := []core.MessageStatus{core.MessageCompleted, core.MessageError, core.MessageCompleted}
	for i, id := range ids {
		stored, err := f.msgs.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want[i], stored.Status, questions[i])
	}
	assert.Len(t, f.replies(t, conv.ID), 2)

	// Nothing left to do.
	require.NoError(t, f.pipeline.ProcessPending(ctx, conv.ID))
	assert.Len(t, f.ranker.Questions(), 3)
}

func TestAnswer_SendsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, core.ProcessingCompleted)

	first, err := f.pipeline.Submit(ctx, conv.ID, "What is this report?")
	require.NoError(t, err)
	_, err = f.pipeline.Answer(ctx, first.ID)
	require.NoError(t, err)

	second, err := f.pipeline.Submit(ctx, conv.ID, "What was revenue growth?")
	require.NoError(t, err)
	_, err = f.pipeline.Answer(ctx, second.ID)
	require.NoError(t, err)

	msgs := f.completer.LastMessages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "User: What is this report?")
	assert.NotContains(t, msgs[1].Content, "User: What was revenue growth?")
}
