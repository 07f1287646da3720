package storage

import (
	"context"

	"github.com/poiesic/folio/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	Close() error
}

// ConversationRepository provides operations for managing conversations.
type ConversationRepository interface {
	Repository
	// AddConversation stores a new conversation.
	// Generates an ID when empty and defaults the status to pending.
	// Sets CreatedAt and UpdatedAt.
	AddConversation(ctx context.Context, conv *core.Conversation) (*core.Conversation, error)

	// GetConversation retrieves a conversation by ID.
	// Returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id string) (*core.Conversation, error)

	// SetProcessingStatus updates a conversation's processing status.
	// Returns ErrNotFound if the conversation doesn't exist.
	SetProcessingStatus(ctx context.Context, id string, status core.ProcessingStatus) (*core.Conversation, error)

	// ListConversations returns all conversations ordered by creation time.
	ListConversations(ctx context.Context) ([]*core.Conversation, error)
}

// MessageRepository provides operations for managing messages and their
// answering state machine. Every status change is a conditional update
// applied atomically against the stored record.
type MessageRepository interface {
	Repository
	// AddMessage stores a new message.
	// Generates an ID and a creation sequence number. Sets CreatedAt and UpdatedAt.
	AddMessage(ctx context.Context, msg *core.Message) (*core.Message, error)

	// GetMessage retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, id string) (*core.Message, error)

	// ListMessages returns a conversation's messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error)

	// ListPendingMessages returns a conversation's pending user messages in creation order.
	ListPendingMessages(ctx context.Context, conversationID string) ([]*core.Message, error)

	// ClaimMessage sets status to processing if and only if it is pending.
	// Returns claimed=false with the current record when another status was found.
	ClaimMessage(ctx context.Context, id string) (claimed bool, msg *core.Message, err error)

	// ReleaseMessage sets status back to pending if and only if it is processing
	// and no reply exists yet. Returns released=false with the current record otherwise.
	ReleaseMessage(ctx context.Context, id string) (released bool, msg *core.Message, err error)

	// FailMessage moves a non-terminal message to error with the given reason.
	// Returns ErrInvalidTransition if the message is already terminal.
	FailMessage(ctx context.Context, id string, reason string) (*core.Message, error)

	// FindReply returns the assistant message answering parentID.
	// Returns ErrNotFound if there is none.
	FindReply(ctx context.Context, parentID string) (*core.Message, error)

	// AddReply stores an assistant reply unless one already exists for its parent.
	// In the same transaction the parent moves from processing to completed and
	// its error is cleared. Returns the existing reply with created=false when
	// another caller answered first.
	AddReply(ctx context.Context, reply *core.Message) (msg *core.Message, created bool, err error)
}
