package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// ConversationRepository implements storage.ConversationRepository using BadgerDB.
type ConversationRepository struct {
	backend *Backend
}

var _ storage.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(backend *Backend) (*ConversationRepository, error) {
	return &ConversationRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *ConversationRepository) Close() error {
	return nil
}

// AddConversation stores a new conversation.
func (r *ConversationRepository) AddConversation(ctx context.Context, conv *core.Conversation) (*core.Conversation, error) {
	if conv == nil {
		return nil, core.ValidateConversation(conv)
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.ProcessingStatus == "" {
		conv.ProcessingStatus = core.ProcessingPending
	}
	if err := core.ValidateConversation(conv); err != nil {
		return nil, err
	}
	if strings.ContainsRune(conv.ID, ':') {
		return nil, fmt.Errorf("%w: id may not contain ':'", core.ErrInvalidConversation)
	}

	conv.CreatedAt = now()
	conv.UpdatedAt = conv.CreatedAt

	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeKey(conversationPrefix, conv.ID)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		value, err := storage.MarshalConversation(conv)
		if err != nil {
			return err
		}
		return tx.Set(key, value)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var conv *core.Conversation
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		conv, err = get(tx, makeKey(conversationPrefix, id), storage.UnmarshalConversation)
		return err
	})
	return conv, err
}

// SetProcessingStatus updates a conversation's processing status.
func (r *ConversationRepository) SetProcessingStatus(ctx context.Context, id string, status core.ProcessingStatus) (*core.Conversation, error) {
	if err := core.ValidateProcessingStatus(status); err != nil {
		return nil, err
	}

	var conv *core.Conversation
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeKey(conversationPrefix, id)
		var err error
		conv, err = get(tx, key, storage.UnmarshalConversation)
		if err != nil {
			return err
		}
		conv.ProcessingStatus = status
		conv.UpdatedAt = now()
		value, err := storage.MarshalConversation(conv)
		if err != nil {
			return err
		}
		return tx.Set(key, value)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns all conversations ordered by creation time.
func (r *ConversationRepository) ListConversations(ctx context.Context) ([]*core.Conversation, error) {
	var results []*core.Conversation
	err := r.backend.View(func(tx *badger.Txn) error {
		return r.backend.ScanPrefix(tx, []byte(conversationPrefix+":"), func(_, val []byte) error {
			conv, err := storage.UnmarshalConversation(val)
			if err != nil {
				return err
			}
			results = append(results, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *core.Conversation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return results, nil
}
