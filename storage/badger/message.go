package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// MessageRepository implements storage.MessageRepository using BadgerDB.
// Status changes run as conflict-checked read-modify-write transactions.
type MessageRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.MessageRepository = (*MessageRepository)(nil)

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(backend *Backend) (*MessageRepository, error) {
	seq, err := backend.GetSequence(messageSeq)
	if err != nil {
		return nil, err
	}
	return &MessageRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the sequence.
func (r *MessageRepository) Close() error {
	return r.seq.Release()
}

func (r *MessageRepository) nextSeq() (uint64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return r.seq.Next()
	}
	return next, nil
}

func putMessage(tx *badger.Txn, msg *core.Message) error {
	value, err := storage.MarshalMessage(msg)
	if err != nil {
		return err
	}
	return tx.Set(makeKey(messagePrefix, msg.ID), value)
}

func getMessage(tx *badger.Txn, id string) (*core.Message, error) {
	return get(tx, makeKey(messagePrefix, id), storage.UnmarshalMessage)
}

// prepare fills generated fields and validates msg.
func (r *MessageRepository) prepare(msg *core.Message) error {
	if msg == nil {
		return core.ValidateMessage(msg)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ContentType == "" {
		msg.ContentType = core.ContentTypeText
	}
	if err := core.ValidateMessage(msg); err != nil {
		return err
	}
	seq, err := r.nextSeq()
	if err != nil {
		return err
	}
	msg.Seq = seq
	msg.CreatedAt = now()
	msg.UpdatedAt = msg.CreatedAt
	return nil
}

// insert writes msg with its order index. Assistant replies also claim the
// reply slot of their parent; ErrDuplicateKey is returned when it is taken.
func insert(tx *badger.Txn, msg *core.Message) error {
	if _, err := tx.Get(makeKey(messagePrefix, msg.ID)); err == nil {
		return storage.ErrDuplicateKey
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	if msg.Role == core.RoleAssistant {
		replyKey := makeReplyKey(msg.ParentMessageID)
		if _, err := tx.Get(replyKey); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := tx.Set(replyKey, []byte(msg.ID)); err != nil {
			return err
		}
	}

	if err := putMessage(tx, msg); err != nil {
		return err
	}
	return tx.Set(makeMessageOrderKey(msg.ConversationID, msg.Seq), []byte(msg.ID))
}

// AddMessage stores a new message.
func (r *MessageRepository) AddMessage(ctx context.Context, msg *core.Message) (*core.Message, error) {
	if err := r.prepare(msg); err != nil {
		return nil, err
	}
	if err := r.backend.Update(func(tx *badger.Txn) error {
		return insert(tx, msg)
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	var msg *core.Message
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		msg, err = getMessage(tx, id)
		return err
	})
	return msg, err
}

// ListMessages returns a conversation's messages in creation order.
func (r *MessageRepository) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	var results []*core.Message
	err := r.backend.View(func(tx *badger.Txn) error {
		prefix := makeScopePrefix(messageOrderPrefix, conversationID)
		return r.backend.ScanPrefix(tx, prefix, func(_, val []byte) error {
			msg, err := getMessage(tx, string(val))
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results = append(results, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListPendingMessages returns a conversation's pending user messages in creation order.
func (r *MessageRepository) ListPendingMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	all, err := r.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var pending []*core.Message
	for _, msg := range all {
		if msg.Role == core.RoleUser && msg.Status == core.MessagePending {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

// ClaimMessage sets status to processing if and only if it is pending.
func (r *MessageRepository) ClaimMessage(ctx context.Context, id string) (bool, *core.Message, error) {
	var (
		claimed bool
		msg     *core.Message
	)
	err := r.backend.Update(func(tx *badger.Txn) error {
		claimed = false
		var err error
		msg, err = getMessage(tx, id)
		if err != nil {
			return err
		}
		if msg.Status != core.MessagePending {
			return nil
		}
		msg.Status = core.MessageProcessing
		msg.UpdatedAt = now()
		claimed = true
		return putMessage(tx, msg)
	})
	if err != nil {
		return false, nil, err
	}
	return claimed, msg, nil
}

// ReleaseMessage hands a processing message back to the pending queue.
func (r *MessageRepository) ReleaseMessage(ctx context.Context, id string) (bool, *core.Message, error) {
	var (
		released bool
		msg      *core.Message
	)
	err := r.backend.Update(func(tx *badger.Txn) error {
		released = false
		var err error
		msg, err = getMessage(tx, id)
		if err != nil {
			return err
		}
		if msg.Status != core.MessageProcessing {
			return nil
		}
		if _, err := findReply(tx, id); err == nil {
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		msg.Status = core.MessagePending
		msg.UpdatedAt = now()
		released = true
		return putMessage(tx, msg)
	})
	if err != nil {
		return false, nil, err
	}
	return released, msg, nil
}

// FailMessage moves a non-terminal message to error with the given reason.
func (r *MessageRepository) FailMessage(ctx context.Context, id string, reason string) (*core.Message, error) {
	var msg *core.Message
	err := r.backend.Update(func(tx *badger.Txn) error {
		var err error
		msg, err = getMessage(tx, id)
		if err != nil {
			return err
		}
		if msg.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, msg.Status, core.MessageError)
		}
		msg.Status = core.MessageError
		msg.Error = reason
		msg.UpdatedAt = now()
		return putMessage(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindReply returns the assistant message answering parentID.
func (r *MessageRepository) FindReply(ctx context.Context, parentID string) (*core.Message, error) {
	var reply *core.Message
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		reply, err = findReply(tx, parentID)
		return err
	})
	return reply, err
}

func findReply(tx *badger.Txn, parentID string) (*core.Message, error) {
	item, err := tx.Get(makeReplyKey(parentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	replyID, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return getMessage(tx, string(replyID))
}

// AddReply stores an assistant reply and completes its parent, unless a reply already exists.
func (r *MessageRepository) AddReply(ctx context.Context, reply *core.Message) (*core.Message, bool, error) {
	if reply == nil || reply.Role != core.RoleAssistant {
		return nil, false, fmt.Errorf("%w: reply must be an assistant message", core.ErrInvalidMessage)
	}
	if reply.Status == "" {
		reply.Status = core.MessageCompleted
	}
	if err := r.prepare(reply); err != nil {
		return nil, false, err
	}

	var (
		existing *core.Message
		created  bool
	)
	err := r.backend.Update(func(tx *badger.Txn) error {
		existing, created = nil, false

		found, err := findReply(tx, reply.ParentMessageID)
		if err == nil {
			existing = found
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		parent, err := getMessage(tx, reply.ParentMessageID)
		if err != nil {
			return fmt.Errorf("parent %s: %w", reply.ParentMessageID, err)
		}
		if parent.Status != core.MessageProcessing {
			return fmt.Errorf("%w: parent is %s", storage.ErrInvalidTransition, parent.Status)
		}
		parent.Status = core.MessageCompleted
		parent.Error = ""
		parent.UpdatedAt = reply.CreatedAt
		if err := putMessage(tx, parent); err != nil {
			return err
		}

		if err := insert(tx, reply); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		return existing, false, nil
	}
	return reply, true, nil
}
