// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package segment

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/folio/core"
)

const (
	DefaultRowTolerance       = 5.0
	DefaultGapFactor          = 1.5
	DefaultLineHeight         = 12.0
	DefaultMinLayoutLength    = 40
	DefaultTargetLength       = 1000
	DefaultOverlap            = 120
	DefaultMinParagraphLength = 80

	maxTitleLength = 120
	maxTitleWords  = 12
)

var (
	ErrInvalidTargetLength = errors.New("target length must be greater than 0")
	ErrInvalidOverlap      = errors.New("overlap must be non-negative and smaller than target length")
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// Segmenter turns documents into chunks.
type Segmenter struct {
	rowTolerance       float64
	gapFactor          float64
	minLayoutLength    int
	targetLength       int
	overlap            int
	minParagraphLength int
	logger             *slog.Logger
}

// Option configures a Segmenter.
type Option func(*Segmenter) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithTargetLength sets the maximum chunk length in characters.
func WithTargetLength(n int) Option {
	return func(s *Segmenter) error {
		if n <= 0 {
			return ErrInvalidTargetLength
		}
		s.targetLength = n
		return nil
	}
}

// WithOverlap sets how many characters consecutive pieces of a hard-split
// paragraph share.
func WithOverlap(n int) Option {
	return func(s *Segmenter) error {
		if n < 0 {
			return ErrInvalidOverlap
		}
		s.overlap = n
		return nil
	}
}

// WithMinLengths sets the noise thresholds for layout and paragraph chunks.
func WithMinLengths(layout, paragraph int) Option {
	return func(s *Segmenter) error {
		s.minLayoutLength = max(layout, 0)
		s.minParagraphLength = max(paragraph, 0)
		return nil
	}
}

// New creates a Segmenter with default thresholds.
func New(opts ...Option) (*Segmenter, error) {
	s := &Segmenter{
		rowTolerance:       DefaultRowTolerance,
		gapFactor:          DefaultGapFactor,
		minLayoutLength:    DefaultMinLayoutLength,
		targetLength:       DefaultTargetLength,
		overlap:            DefaultOverlap,
		minParagraphLength: DefaultMinParagraphLength,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.overlap >= s.targetLength {
		return nil, ErrInvalidOverlap
	}
	s.logger = s.logger.With("component", "segmenter")
	return s, nil
}

// Segment splits every page of doc into chunks, in page order.
// Pages with layout items use coordinate-aware segmentation.
func (s *Segmenter) Segment(doc *core.Document) []core.Chunk {
	if doc == nil {
		return nil
	}

	var chunks []core.Chunk
	for i := range doc.Pages {
		page := &doc.Pages[i]
		var pageChunks []core.Chunk
		if len(page.Items) > 0 {
			pageChunks = s.segmentLayout(page)
		} else {
			pageChunks = s.segmentText(page)
		}
		chunks = append(chunks, pageChunks...)
	}

	s.logger.Debug("segmented document", "title", doc.Title, "pages", len(doc.Pages), "chunks", len(chunks))
	return chunks
}

// segmentText accumulates blank-line separated paragraphs up to the target length.
func (s *Segmenter) segmentText(page *core.Page) []core.Chunk {
	text := strings.ReplaceAll(page.Text, "\r\n", "\n")
	title := SectionTitle(text)

	var chunks []core.Chunk
	emit := func(body string) {
		body = strings.TrimSpace(body)
		if utf8.RuneCountInString(body) < s.minParagraphLength {
			return
		}
		chunks = append(chunks, core.Chunk{
			Text:         body,
			PageNumber:   page.Number,
			SectionTitle: title,
		})
	}

	var current strings.Builder
	currentLen := 0
	flush := func() {
		if currentLen > 0 {
			emit(current.String())
		}
		current.Reset()
		currentLen = 0
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraLen := utf8.RuneCountInString(para)

		if paraLen > s.targetLength {
			flush()
			for _, piece := range s.hardSplit(para) {
				emit(piece)
			}
			continue
		}

		if currentLen > 0 && currentLen+2+paraLen > s.targetLength {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(para)
		currentLen += paraLen
	}
	flush()

	return chunks
}

// hardSplit cuts text into pieces of at most targetLength runes, each sharing
// overlap runes with its predecessor. Cuts prefer whitespace near the window end.
func (s *Segmenter) hardSplit(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var pieces []string

	start := 0
	for start < n {
		end := min(start+s.targetLength, n)
		if end < n {
			// Look back at most a fifth of the window for a word boundary.
			floor := end - s.targetLength/5
			for i := end; i > floor && i > start+s.overlap; i-- {
				if unicode.IsSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}
		pieces = append(pieces, string(runes[start:end]))
		if end == n {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}

type row struct {
	top    float64
	height float64
	items  []core.TextItem
}

func (r *row) text() string {
	parts := make([]string, 0, len(r.items))
	for _, item := range r.items {
		if t := strings.TrimSpace(item.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// segmentLayout groups glyphs into rows and breaks chunks on paragraph-sized gaps.
func (s *Segmenter) segmentLayout(page *core.Page) []core.Chunk {
	rows := s.groupRows(page.Items)
	if len(rows) == 0 {
		return nil
	}
	title := SectionTitle(rows[0].text())

	var chunks []core.Chunk
	var lines []string
	var coords []core.TextItem
	length := 0

	flush := func() {
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		if utf8.RuneCountInString(body) >= s.minLayoutLength {
			chunks = append(chunks, core.Chunk{
				Text:         body,
				PageNumber:   page.Number,
				SectionTitle: title,
				Coordinates:  coords,
			})
		}
		lines = nil
		coords = nil
		length = 0
	}

	for i := range rows {
		r := &rows[i]
		line := r.text()
		if line == "" {
			continue
		}
		if i > 0 && len(lines) > 0 {
			prev := &rows[i-1]
			gap := r.top - prev.top
			avg := (prev.height + r.height) / 2
			if gap > s.gapFactor*avg {
				flush()
			}
		}
		lineLen := utf8.RuneCountInString(line)
		if length > 0 && length+1+lineLen > s.targetLength {
			flush()
		}
		lines = append(lines, line)
		coords = append(coords, r.items...)
		length += lineLen + 1
	}
	flush()

	return chunks
}

// groupRows orders items top-to-bottom and merges those within the row
// tolerance into rows sorted left-to-right.
func (s *Segmenter) groupRows(items []core.TextItem) []row {
	sorted := make([]core.TextItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		if item.Height <= 0 {
			item.Height = DefaultLineHeight
		}
		sorted = append(sorted, item)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows []row
	for _, item := range sorted {
		if n := len(rows); n > 0 && item.Y-rows[n-1].top <= s.rowTolerance {
			last := &rows[n-1]
			last.items = append(last.items, item)
			last.height = max(last.height, item.Height)
			continue
		}
		rows = append(rows, row{top: item.Y, height: item.Height, items: []core.TextItem{item}})
	}

	for i := range rows {
		sort.SliceStable(rows[i].items, func(a, b int) bool {
			return rows[i].items[a].X < rows[i].items[b].X
		})
	}
	return rows
}

// SectionTitle returns the first non-empty line of text when it looks like a
// heading: at most 120 characters and 12 words, containing a letter and not
// ending in a period. Otherwise it returns "".
func SectionTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleLength {
			return ""
		}
		if len(strings.Fields(line)) > maxTitleWords {
			return ""
		}
		if strings.HasSuffix(line, ".") {
			return ""
		}
		if strings.IndexFunc(line, unicode.IsLetter) < 0 {
			return ""
		}
		return line
	}
	return ""
}
