// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/answer"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/notify"
	"github.com/poiesic/folio/retrieval"
	"github.com/poiesic/folio/storage"
)

// Ranker finds the references for a question. retrieval.Ranker satisfies it.
type Ranker interface {
	Rank(ctx context.Context, question, conversationID string, limit int) ([]core.Reference, error)
}

// Generator writes the reply. answer.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req answer.Request) (*answer.Result, error)
}

// Pipeline drives user messages through the answering state machine.
type Pipeline struct {
	conversations storage.ConversationRepository
	messages      storage.MessageRepository
	ranker        Ranker
	generator     Generator
	notifier      notify.Notifier
	history       HistoryBudget
	maxReferences int
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithNotifier sets where progress events are sent.
// Default discards them.
func WithNotifier(notifier notify.Notifier) Option {
	return func(p *Pipeline) error {
		if notifier == nil {
			notifier = notify.Noop()
		}
		p.notifier = notifier
		return nil
	}
}

// WithHistoryBudget bounds the conversation history sent with each question.
func WithHistoryBudget(tokens, messages int) Option {
	return func(p *Pipeline) error {
		if tokens <= 0 || messages < 2 {
			return fmt.Errorf("invalid history budget: %d tokens, %d messages", tokens, messages)
		}
		p.history = HistoryBudget{Tokens: tokens, Messages: messages}
		return nil
	}
}

// WithMaxReferences sets how many references are used per answer.
func WithMaxReferences(n int) Option {
	return func(p *Pipeline) error {
		if n <= 0 {
			return fmt.Errorf("max references must be greater than 0, got %d", n)
		}
		p.maxReferences = n
		return nil
	}
}

// NewPipeline creates a message pipeline.
func NewPipeline(
	conversations storage.ConversationRepository,
	messages storage.MessageRepository,
	ranker Ranker,
	generator Generator,
	opts ...Option,
) (*Pipeline, error) {
	if conversations == nil {
		return nil, ErrConversationRepositoryRequired
	}
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if ranker == nil {
		return nil, ErrRankerRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	p := &Pipeline{
		conversations: conversations,
		messages:      messages,
		ranker:        ranker,
		generator:     generator,
		notifier:      notify.Noop(),
		history:       HistoryBudget{Tokens: DefaultHistoryTokenBudget, Messages: DefaultHistoryMaxMessages},
		maxReferences: retrieval.DefaultMaxReferences,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "message-pipeline")
	return p, nil
}

// Submit stores a new user message. It is created processing when the
// conversation can be answered now and pending otherwise.
func (p *Pipeline) Submit(ctx context.Context, conversationID, text string) (*core.Message, error) {
	conv, err := p.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	status := core.MessagePending
	if conv.Ready() {
		status = core.MessageProcessing
	}
	return p.messages.AddMessage(ctx, &core.Message{
		ConversationID: conversationID,
		Role:           core.RoleUser,
		Text:           text,
		ContentType:    core.ContentTypeText,
		Status:         status,
	})
}

// Answer produces the assistant reply for a user message.
//
// It returns nil, nil when the conversation is not ready yet or when the
// message was settled by someone else without a reply. A message found
// processing while its conversation is not ready goes back to pending so
// the sweep after ingestion answers it. Repeated and
// concurrent calls for one message store at most one reply; callers that
// lose the race get that reply back.
func (p *Pipeline) Answer(ctx context.Context, messageID string) (reply *core.Message, err error) {
	msg, err := p.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != core.RoleUser {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotUserMessage, messageID, msg.Role)
	}

	conv, err := p.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Ready() {
		ready, err := p.park(ctx, msg)
		if err != nil || !ready {
			return nil, err
		}
	}

	claimed, current, err := p.messages.ClaimMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim message %s: %w", messageID, err)
	}
	if !claimed && current.Status != core.MessageProcessing {
		return p.existingReply(ctx, messageID)
	}
	if !claimed {
		p.logger.Debug("message already processing, answering alongside", "message", messageID)
	}

	defer func() {
		if r := recover(); r != nil {
			reply, err = p.fail(ctx, current, fmt.Errorf("%w: %v", ErrAnswerPanic, r))
		}
	}()

	p.notifier.Notify(ctx, current.ConversationID, notify.EventThinking, map[string]any{"message_id": current.ID})

	result, err := p.generate(ctx, current)
	if err != nil {
		return p.fail(ctx, current, err)
	}

	reply, created, err := p.messages.AddReply(ctx, &core.Message{
		ConversationID:  current.ConversationID,
		Role:            core.RoleAssistant,
		Text:            result.Text,
		FormattedText:   result.FormattedText,
		ContentType:     result.ContentType,
		Status:          core.MessageCompleted,
		ParentMessageID: current.ID,
		References:      result.References,
	})
	if errors.Is(err, storage.ErrInvalidTransition) {
		// Settled by a concurrent caller between claim and insert.
		return p.existingReply(ctx, messageID)
	}
	if err != nil {
		return p.fail(ctx, current, fmt.Errorf("failed to store reply: %w", err))
	}
	if !created {
		p.logger.Debug("reply already stored by a concurrent caller", "message", messageID, "reply", reply.ID)
		return reply, nil
	}

	p.notifier.Notify(ctx, current.ConversationID, notify.EventAnswerComplete, map[string]any{
		"message_id": current.ID,
		"reply_id":   reply.ID,
		"references": len(reply.References),
	})
	p.logger.Info("answered message", "conversation", current.ConversationID, "message", current.ID, "references", len(reply.References))
	return reply, nil
}

// generate ranks references and asks the generator for a reply.
func (p *Pipeline) generate(ctx context.Context, msg *core.Message) (*answer.Result, error) {
	refs, err := p.ranker.Rank(ctx, msg.Text, msg.ConversationID, p.maxReferences)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	all, err := p.messages.ListMessages(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return p.generator.Generate(ctx, answer.Request{
		Question:   msg.Text,
		References: refs,
		History:    BuildHistory(all, msg.ID, p.history),
	})
}

// fail records cause on msg. When another caller already completed the
// message its reply is returned instead of the error.
func (p *Pipeline) fail(ctx context.Context, msg *core.Message, cause error) (*core.Message, error) {
	if _, err := p.messages.FailMessage(ctx, msg.ID, cause.Error()); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			if reply, findErr := p.messages.FindReply(ctx, msg.ID); findErr == nil {
				return reply, nil
			}
		}
		p.logger.Error("failed to record message error", "message", msg.ID, "err", err)
	}

	p.logger.Error("error answering message", "conversation", msg.ConversationID, "message", msg.ID, "err", cause)
	p.notifier.Notify(ctx, msg.ConversationID, notify.EventError, map[string]any{
		"message_id": msg.ID,
		"error":      cause.Error(),
	})
	return nil, cause
}

// existingReply returns the stored reply for messageID, or nil when there is none.
func (p *Pipeline) existingReply(ctx context.Context, messageID string) (*core.Message, error) {
	reply, err := p.messages.FindReply(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return reply, err
}

// park returns msg to the pending queue while its conversation is not ready
// and reports whether the conversation became ready in the meantime.
func (p *Pipeline) park(ctx context.Context, msg *core.Message) (bool, error) {
	released, _, err := p.messages.ReleaseMessage(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("failed to release message %s: %w", msg.ID, err)
	}
	conv, err := p.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if conv.Ready() {
		return true, nil
	}
	p.logger.Debug("conversation not ready, leaving message pending",
		"conversation", conv.ID, "message", msg.ID, "status", conv.ProcessingStatus, "released", released)
	return false, nil
}

// ProcessPending answers a conversation's pending messages in creation order.
// A failing message does not stop the rest; failures are joined.
func (p *Pipeline) ProcessPending(ctx context.Context, conversationID string) error {
	pending, err := p.messages.ListPendingMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}
	if len(pending) > 0 {
		p.logger.Info("processing pending messages", "conversation", conversationID, "count", len(pending))
	}

	var errs []error
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := p.Answer(ctx, msg.ID); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msg.ID, err))
		}
	}
	return errors.Join(errs...)
}
