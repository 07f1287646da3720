// Package vectorstore provides the resilient vector store client.
//
// Client wraps a Provider (a vector database) with the behavior the pipeline
// relies on:
//
//   - upserts are split into batches of 100 issued three at a time
//   - every call is retried on transient errors with exponential backoff
//   - queries and deletes are always scoped to one conversation
//   - a failed query yields no matches instead of an error
//
// Providers live in subpackages: badger stores vectors locally next to the
// conversation data, postgres uses pgvector.
package vectorstore
