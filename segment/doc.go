// Package segment splits extracted page text into bounded, page-attributed chunks.
//
// Pages that carry glyph coordinates are segmented by layout: glyphs are
// grouped into rows and a vertical gap larger than the surrounding line
// height starts a new chunk. Pages without coordinates fall back to
// paragraph accumulation with a hard split for oversized paragraphs.
//
// Chunks never span pages and their order is fully determined by the input.
package segment
