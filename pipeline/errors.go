package pipeline

import "errors"

var (
	// ErrConversationRepositoryRequired is returned when a conversation repository is not provided.
	ErrConversationRepositoryRequired = errors.New("conversation repository required")

	// ErrMessageRepositoryRequired is returned when a message repository is not provided.
	ErrMessageRepositoryRequired = errors.New("message repository required")

	// ErrRankerRequired is returned when a ranker is not provided.
	ErrRankerRequired = errors.New("ranker required")

	// ErrGeneratorRequired is returned when an answer generator is not provided.
	ErrGeneratorRequired = errors.New("answer generator required")

	// ErrNotUserMessage is returned when asked to answer a non-user message.
	ErrNotUserMessage = errors.New("only user messages can be answered")

	// ErrAnswerPanic wraps a panic recovered while answering.
	ErrAnswerPanic = errors.New("panic while answering")
)
