package retrieval

import "errors"

var (
	// ErrEmbedderRequired indicates the ranker was created without an embedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrSearcherRequired indicates the ranker was created without a vector searcher.
	ErrSearcherRequired = errors.New("vector searcher is required")

	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")
)
