package mock

import (
	"context"
	"sync"

	"github.com/poiesic/folio/ai"
)

// DefaultAnswer is returned by MockCompleter when no CompleteFunc is set.
const DefaultAnswer = "This is a mock answer."

// MockCompleter is a test double for ai.Completer.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	CompleteFunc func(ctx context.Context, messages []ai.ChatMessage) (string, error)

	mu       sync.Mutex
	calls    int
	lastCall []ai.ChatMessage
}

var _ ai.Completer = (*MockCompleter)(nil)

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

func (m *MockCompleter) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastCall = messages
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages)
	}
	return DefaultAnswer, nil
}

// CallCount returns the number of Complete calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMessages returns the messages passed to the most recent call.
func (m *MockCompleter) LastMessages() []ai.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockRewriter is a test double for ai.QueryRewriter.
type MockRewriter struct {
	Rewrites []string
	Err      error
}

var _ ai.QueryRewriter = (*MockRewriter)(nil)

func (m *MockRewriter) Rewrite(ctx context.Context, question string, n int) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Rewrites) > n {
		return m.Rewrites[:n], nil
	}
	return m.Rewrites, nil
}
