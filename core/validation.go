package core

import (
	"fmt"
	"strings"
)

// ValidateConversation checks a conversation before it is stored.
func ValidateConversation(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("%w: conversation is nil", ErrInvalidConversation)
	}
	if err := ValidateProcessingStatus(conv.ProcessingStatus); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConversation, err)
	}
	return nil
}

// ValidateMessage checks a message before it is stored.
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}
	if msg.ConversationID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrMissingConversationID)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrEmptyContent)
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("%w: %w: %q", ErrInvalidMessage, ErrInvalidRole, msg.Role)
	}
	if err := ValidateMessageStatus(msg.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Role == RoleAssistant && msg.ParentMessageID == "" {
		return fmt.Errorf("%w: assistant message requires a parent", ErrInvalidMessage)
	}
	return nil
}

// ValidateVectorRecord checks a record before it is upserted.
func ValidateVectorRecord(record *VectorRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidVectorRecord)
	}
	if record.ConversationID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidVectorRecord, ErrMissingConversationID)
	}
	if record.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidVectorRecord)
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: vector is empty", ErrInvalidVectorRecord)
	}
	if record.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidVectorRecord, ErrEmptyContent)
	}
	return nil
}

func ValidateProcessingStatus(status ProcessingStatus) error {
	switch status {
	case ProcessingPending, ProcessingProcessing, ProcessingCompleted, ProcessingFailed:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

func ValidateMessageStatus(status MessageStatus) error {
	switch status {
	case MessagePending, MessageProcessing, MessageCompleted, MessageError:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}
