package vectorstore

import (
	"context"
	"errors"

	"github.com/poiesic/folio/core"
)

var (
	// ErrNoVectorsFound indicates a delete matched no records.
	ErrNoVectorsFound = errors.New("no vectors found")

	// ErrFilterRequired indicates an operation was issued without a conversation scope.
	ErrFilterRequired = errors.New("conversation filter is required")

	// ErrProviderRequired indicates a client was created without a provider.
	ErrProviderRequired = errors.New("vector store provider is required")
)

// Filter scopes an operation to one conversation's vectors.
type Filter struct {
	ConversationID string
}

// Validate returns ErrFilterRequired when the filter has no conversation.
func (f Filter) Validate() error {
	if f.ConversationID == "" {
		return ErrFilterRequired
	}
	return nil
}

// Provider is a vector database. Implementations return errors that
// retry.IsTransient recognizes for conditions worth retrying.
type Provider interface {
	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, records []*core.VectorRecord) error

	// Query returns up to topK records of the filtered conversation, most similar first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]core.Match, error)

	// DeleteByFilter removes every record of the filtered conversation.
	// Returns ErrNoVectorsFound when nothing matched.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)
}
