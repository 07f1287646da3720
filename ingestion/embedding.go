package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"unicode"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retrieval"
)

// embeddingProcessor embeds chunks and builds their vector records.
type embeddingProcessor struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

func (ep *embeddingProcessor) name() string {
	return "embed"
}

// process embeds every chunk in one call and attaches page classification.
func (ep *embeddingProcessor) process(ctx context.Context, j *job) error {
	texts := make([]string, len(j.chunks))
	for i, chunk := range j.chunks {
		texts[i] = chunk.Text
	}

	ep.logger.Debug("generating embeddings for chunks", "conversation", j.conversationID, "chunks", len(texts))
	embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(j.chunks) {
		return fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingMismatch, len(j.chunks), len(embeddings))
	}

	j.records = make([]*core.VectorRecord, len(j.chunks))
	for i, chunk := range j.chunks {
		pageType, tocConfidence := retrieval.ClassifyPage(chunk.Text, chunk.PageNumber)
		j.records[i] = &core.VectorRecord{
			ID:             core.ChunkID(j.conversationID, i),
			Vector:         embeddings[i],
			Text:           chunk.Text,
			ConversationID: j.conversationID,
			PageNumber:     chunk.PageNumber,
			ChunkIndex:     i,
			SectionTitle:   chunk.SectionTitle,
			PageType:       pageType,
			TOCConfidence:  tocConfidence,
			Confidence:     textQuality(chunk.Text),
		}
	}
	return nil
}

// textQuality is the share of non-space characters that are letters or digits.
// Extraction garbage scores low.
func textQuality(text string) float64 {
	var total, good int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}
