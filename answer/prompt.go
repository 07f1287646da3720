package answer

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/folio/core"
)

const systemPrompt = `You answer questions about a single document using only the excerpts you are given.

Rules:
- Use only facts stated in the excerpts. Do not use outside knowledge.
- Cite the page of every fact you use as [p. N], using the page numbers shown with each excerpt.
- If the excerpts do not contain the answer, say that the document does not appear to cover it.
- Be concise. Prefer short paragraphs or a short list.
- Do not mention the excerpts or their numbering; refer to the document instead.`

var citation = regexp.MustCompile(`\[p\.\s*(\d+)\]`)

// buildUserPrompt renders history, numbered excerpts and the question as one turn.
func buildUserPrompt(req Request, maxExcerptRunes int) string {
	var b strings.Builder

	if len(req.History) > 0 {
		b.WriteString("Earlier in this conversation:\n")
		for _, ex := range req.History {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", strings.TrimSpace(ex.Question), strings.TrimSpace(ex.Answer))
		}
		b.WriteString("\n")
	}

	b.WriteString("Document excerpts:\n")
	for i, ref := range req.References {
		fmt.Fprintf(&b, "[%d] (p. %d", i+1, ref.PageNumber)
		if ref.SectionTitle != "" {
			fmt.Fprintf(&b, ", section %q", ref.SectionTitle)
		}
		b.WriteString(")\n")
		b.WriteString(truncate(strings.TrimSpace(ref.Text), maxExcerptRunes))
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(req.Question))
	return b.String()
}

// formatWithSources appends a Sources line. It lists only the pages the
// answer cites, in citation order; without citations every referenced page
// is listed.
func formatWithSources(text string, refs []core.Reference) string {
	var pages []int
	for _, m := range citation.FindAllStringSubmatch(text, -1) {
		if p, err := strconv.Atoi(m[1]); err == nil && !slices.Contains(pages, p) {
			pages = append(pages, p)
		}
	}
	if len(pages) == 0 {
		for _, ref := range refs {
			if !slices.Contains(pages, ref.PageNumber) {
				pages = append(pages, ref.PageNumber)
			}
		}
	}

	labels := make([]string, len(pages))
	for i, p := range pages {
		labels[i] = "p. " + strconv.Itoa(p)
	}
	return text + "\n\nSources: " + strings.Join(labels, ", ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
