package ai

import "context"

// Embedder converts text to fixed-length vectors.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRole is the author of a completion turn.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn handed to a Completer.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// Completer produces text from a list of chat turns.
type Completer interface {
	// Complete returns the model's reply to messages.
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// QueryRewriter produces paraphrases of a question to widen retrieval recall.
type QueryRewriter interface {
	// Rewrite returns up to n alternative phrasings of question. The original is not included.
	Rewrite(ctx context.Context, question string, n int) ([]string, error)
}

// AIProvider aggregates the model services used by the pipelines.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Completer returns the completion service.
	// The returned Completer is safe for concurrent use.
	Completer() Completer

	// Close releases resources held by the provider and its services.
	Close() error
}
