package ai

import "errors"

var (
	// ErrEmptyInput is returned when an embedding call receives no text.
	ErrEmptyInput = errors.New("embedding input is empty")

	// ErrEmbeddingMismatch is returned when a provider returns a different number of vectors than requested.
	ErrEmbeddingMismatch = errors.New("embedding result count mismatch")

	// ErrEmbedderRequired is returned when a nil embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder required")
)
