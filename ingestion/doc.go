// Package ingestion turns an uploaded document into indexed vectors.
//
// The Pipeline moves a conversation through processing to completed or
// failed while running three stages in order:
//   - Segmenting the parsed pages into chunks
//   - Embedding every chunk and classifying its page
//   - Upserting the vector records into the vector store
//
// Any stage error marks the conversation failed. Vectors written before the
// failure are left in place; re-ingesting overwrites them because record ids
// are derived from the conversation id and chunk index.
//
// After a successful run the conversation's pending messages are answered on
// a background worker pool, in creation order.
package ingestion
