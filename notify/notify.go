// Package notify announces pipeline progress to interested listeners.
// Delivery is best effort; persisted records remain the source of truth.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Event names a pipeline progress signal.
type Event string

const (
	EventProcessingStarted Event = "processing-started"
	EventThinking          Event = "thinking"
	EventAnswerComplete    Event = "answer-complete"
	EventError             Event = "error"
	EventIngestionComplete Event = "ingestion-complete"
)

// Notifier delivers an event for a conversation. Implementations must not block
// for long and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, conversationID string, event Event, payload map[string]any)
}

type noopNotifier struct{}

var _ Notifier = (*noopNotifier)(nil)

func (n *noopNotifier) Notify(_ context.Context, _ string, _ Event, _ map[string]any) {}

// Noop returns a notifier that discards every event.
func Noop() Notifier {
	return &noopNotifier{}
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, conversationID string, event Event, payload map[string]any) {
	attrs := make([]any, 0, 4+2*len(payload))
	attrs = append(attrs, "conversation", conversationID, "event", string(event))
	for k, v := range payload {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "pipeline event", attrs...)
}

// Notification is one recorded event.
type Notification struct {
	ConversationID string
	Event          Event
	Payload        map[string]any
}

// Recorder keeps every event in memory. Useful for tests and CLI summaries.
type Recorder struct {
	mu     sync.Mutex
	events []Notification
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Notify(_ context.Context, conversationID string, event Event, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Notification{ConversationID: conversationID, Event: event, Payload: payload})
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.events))
	copy(out, r.events)
	return out
}

// Has reports whether event was recorded for conversationID.
func (r *Recorder) Has(conversationID string, event Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.events {
		if n.ConversationID == conversationID && n.Event == event {
			return true
		}
	}
	return false
}

// Multi fans an event out to several notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

type multi []Notifier

func (m multi) Notify(ctx context.Context, conversationID string, event Event, payload map[string]any) {
	for _, n := range m {
		n.Notify(ctx, conversationID, event, payload)
	}
}
