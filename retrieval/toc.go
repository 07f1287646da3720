package retrieval

import (
	"regexp"
	"strings"

	"github.com/poiesic/folio/core"
)

const (
	tocConfidenceThreshold = 0.6
	earlyPageLimit         = 5
	shortTextLimit         = 800
	minStructuralKeywords  = 3
	minEntryLines          = 3
)

var (
	// "Introduction ........ 5"
	dottedLeader = regexp.MustCompile(`(?m)(\.\s?){4,}\s*\d{1,4}\s*$`)
	// "Chapter 2 Results 14"
	chapterEntry = regexp.MustCompile(`(?im)^\s*(chapter|section|part|unit)\s+[0-9ivxlc]+\b.*\s\d{1,4}\s*$`)
	// A "Contents" heading on its own line
	contentsHeading = regexp.MustCompile(`(?im)^\s*(table\s+of\s+contents|contents)\s*$`)
	// A line that ends in a page number after some title text
	entryLine = regexp.MustCompile(`^\S.*\D\s+\d{1,4}$`)

	structuralKeyword = regexp.MustCompile(`(?i)\b(chapter|section|part|unit)s?\b`)
)

// MatchesTOCPattern reports whether text contains table-of-contents layout:
// dotted leaders, chapter entries ending in a page number, or a contents heading.
func MatchesTOCPattern(text string) bool {
	return dottedLeader.MatchString(text) || chapterEntry.MatchString(text) || contentsHeading.MatchString(text)
}

// StructuralKeywordCount counts mentions of chapter/section/part/unit.
func StructuralKeywordCount(text string) int {
	return len(structuralKeyword.FindAllStringIndex(text, -1))
}

// TOCConfidence estimates in [0,1] how much text looks like a table of contents,
// from the share of lines that read as entries ending in a page number.
func TOCConfidence(text string) float64 {
	var lines, entries int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		if dottedLeader.MatchString(line) || entryLine.MatchString(line) {
			entries++
		}
	}
	if lines < minEntryLines {
		return 0
	}

	confidence := float64(entries) / float64(lines)
	if contentsHeading.MatchString(text) {
		confidence += 0.3
	}
	return min(confidence, 1)
}

// ClassifyPage returns the page type and ToC confidence recorded for a chunk
// at ingestion time.
func ClassifyPage(text string, pageNumber int) (string, float64) {
	confidence := TOCConfidence(text)
	if confidence > tocConfidenceThreshold || (pageNumber <= earlyPageLimit && MatchesTOCPattern(text)) {
		return core.PageTypeTOC, confidence
	}
	return core.PageTypeContent, confidence
}

// IsTOC decides whether a retrieved hit is table-of-contents noise.
func IsTOC(meta core.MatchMetadata) bool {
	if meta.PageType == core.PageTypeTOC {
		return true
	}
	if meta.TOCConfidence > tocConfidenceThreshold {
		return true
	}
	early := meta.PageNumber > 0 && meta.PageNumber <= earlyPageLimit
	if early && MatchesTOCPattern(meta.Text) {
		return true
	}
	if early && len([]rune(meta.Text)) < shortTextLimit && StructuralKeywordCount(meta.Text) >= minStructuralKeywords {
		return true
	}
	return false
}
