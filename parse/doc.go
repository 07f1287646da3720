// Package parse extracts per-page text from uploaded files.
//
// PDF pages keep glyph runs with top-down coordinates so the segmenter can
// use layout; plain text files are split into pages on form feeds.
package parse
