// Package reembed rebuilds the vectors of every stored document, typically
// after the embedding model changes. Each document is re-read from its
// source file, its old vectors purged, and the result ingested again.
package reembed
