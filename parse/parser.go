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


package parse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/poiesic/folio/core"
)

const (
	defaultPageHeight = 792.0
	maxPageTreeDepth  = 64
)

var ErrUnreadablePDF = errors.New("unreadable pdf")

// Parser turns file contents into a core.Document.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseFile reads path and parses it as PDF when the extension is .pdf,
// otherwise as plain text.
func (p *Parser) ParseFile(path string) (*core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return p.ParsePDF(bytes.NewReader(data), int64(len(data)), title)
	}
	return ParseText(title, string(data)), nil
}

// ParseText splits text into pages on form feed characters.
// Page numbers start at 1.
func ParseText(title, text string) *core.Document {
	doc := &core.Document{Title: title}
	for i, body := range strings.Split(text, "\f") {
		doc.Pages = append(doc.Pages, core.Page{Number: i + 1, Text: body})
	}
	return doc
}

// ParsePDF extracts every non-null page of a PDF.
func (p *Parser) ParsePDF(r io.ReaderAt, size int64, title string) (*core.Document, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		p.logger.Error("failed to create PDF reader", "error", err, "size", size)
		return nil, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}

	total := reader.NumPage()
	p.logger.Debug("starting PDF text extraction", "pages", total)

	doc := &core.Document{Title: title}
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			p.logger.Warn("null page encountered", "page", n)
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", n, err)
		}

		doc.Pages = append(doc.Pages, core.Page{
			Number: n,
			Text:   text,
			Items:  p.pageItems(page, n),
		})
	}
	return doc, nil
}

// pageItems returns glyph runs for page, or nil when the content stream
// cannot be interpreted. The pdf package panics on malformed operators.
func (p *Parser) pageItems(page pdf.Page, n int) (items []core.TextItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("falling back to plain text", "page", n, "error", r)
			items = nil
		}
	}()
	return MergeGlyphs(page.Content().Text, pageHeight(page))
}

func pageHeight(page pdf.Page) float64 {
	box := inherited(page.V, "MediaBox")
	if box.Kind() != pdf.Array || box.Len() < 4 {
		return defaultPageHeight
	}
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if h <= 0 {
		return defaultPageHeight
	}
	return h
}

// inherited looks key up on v and then up its Parent chain.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < maxPageTreeDepth; depth++ {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// MergeGlyphs joins glyphs that sit on the same baseline and touch
// horizontally into runs, converting y to grow downward from the page top.
// A whitespace glyph always ends the current run. Run height is the font size.
func MergeGlyphs(glyphs []pdf.Text, height float64) []core.TextItem {
	var items []core.TextItem
	split := false
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			split = g.S != "" || split
			continue
		}
		y := height - g.Y - g.FontSize
		if n := len(items); n > 0 && !split {
			last := &items[n-1]
			sameLine := math.Abs(last.Y-y) < 0.5
			touching := g.X-(last.X+last.Width) <= g.FontSize*0.25 && g.X >= last.X
			if sameLine && touching {
				last.Text += g.S
				last.Width = g.X + g.W - last.X
				continue
			}
		}
		split = false
		items = append(items, core.TextItem{
			Text:   g.S,
			X:      g.X,
			Y:      y,
			Width:  g.W,
			Height: g.FontSize,
		})
	}
	return items
}
