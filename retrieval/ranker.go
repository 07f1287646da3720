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


package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/vectorstore"
)

const (
	DefaultMaxVariants   = 3
	DefaultVariantTopK   = 7
	DefaultFallbackTopK  = 15
	DefaultMaxReferences = 5

	maxOverlapBoost    = 0.2
	overlapBoostPerHit = 0.02
	sectionTitleBoost  = 0.05
	dedupePrefixRunes  = 64
)

// Searcher is the vector query capability the ranker needs.
// vectorstore.Client satisfies it.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) []core.Match
}

// Ranker turns a question into ranked references from one conversation's document.
type Ranker struct {
	embedder     ai.Embedder
	searcher     Searcher
	rewriter     ai.QueryRewriter
	maxVariants  int
	variantTopK  int
	fallbackTopK int
	logger       *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ranker) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithRewriter sets the source of query variants.
// Default is HeuristicRewriter.
func WithRewriter(rewriter ai.QueryRewriter) Option {
	return func(r *Ranker) error {
		if rewriter == nil {
			rewriter = HeuristicRewriter{}
		}
		r.rewriter = rewriter
		return nil
	}
}

// WithVariantTopK sets how many hits are requested per variant and for the fallback query.
func WithVariantTopK(variant, fallback int) Option {
	return func(r *Ranker) error {
		if variant <= 0 || fallback <= 0 {
			return fmt.Errorf("topK must be greater than 0, got %d and %d", variant, fallback)
		}
		r.variantTopK = variant
		r.fallbackTopK = fallback
		return nil
	}
}

// NewRanker creates a ranker.
func NewRanker(embedder ai.Embedder, searcher Searcher, opts ...Option) (*Ranker, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if searcher == nil {
		return nil, ErrSearcherRequired
	}

	r := &Ranker{
		embedder:     embedder,
		searcher:     searcher,
		rewriter:     HeuristicRewriter{},
		maxVariants:  DefaultMaxVariants,
		variantTopK:  DefaultVariantTopK,
		fallbackTopK: DefaultFallbackTopK,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "ranker")
	return r, nil
}

// Rank returns at most limit references for question, best first.
// A limit of zero or less uses DefaultMaxReferences.
func (r *Ranker) Rank(ctx context.Context, question, conversationID string, limit int) ([]core.Reference, error) {
	return r.RankWithMonitor(ctx, question, conversationID, limit, nil)
}

// hit is a merged match with its ranking inputs.
type hit struct {
	match core.Match
	key   string
	score float64
	toc   bool
}

// RankWithMonitor is Rank with stage callbacks.
// Embedding failures are returned; vector store failures count as no hits.
func (r *Ranker) RankWithMonitor(ctx context.Context, question, conversationID string, limit int, monitor Monitor) ([]core.Reference, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if limit <= 0 {
		limit = DefaultMaxReferences
	}
	filter := vectorstore.Filter{ConversationID: conversationID}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	monitor.Start(question)

	variants := r.variants(ctx, question)
	monitor.AfterVariants(variants)

	vectors, err := r.embedder.EmbedTexts(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question variants: %w", err)
	}
	if len(vectors) != len(variants) {
		return nil, fmt.Errorf("%w: %d variants, %d vectors", ai.ErrEmbeddingMismatch, len(variants), len(vectors))
	}

	merged := make([]core.Match, 0, len(variants)*r.variantTopK)
	seen := make(map[string]bool)
	for i := range variants {
		for _, m := range r.searcher.Query(ctx, vectors[i], r.variantTopK, filter) {
			key := dedupeKey(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, m)
		}
	}

	if len(merged) == 0 {
		monitor.Fallback()
		r.logger.Debug("variant queries returned nothing, querying directly", "conversation", conversationID)
		merged = r.searcher.Query(ctx, vectors[0], r.fallbackTopK, filter)
	}
	monitor.AfterMerge(merged)

	hits := score(merged, terms(question))
	hits = r.suppressTOC(hits, monitor)
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	refs := make([]core.Reference, len(hits))
	for i, h := range hits {
		pageType := h.match.Metadata.PageType
		if pageType == "" {
			pageType = core.PageTypeContent
			if h.toc {
				pageType = core.PageTypeTOC
			}
		}
		refs[i] = core.Reference{
			Text:          h.match.Metadata.Text,
			PageNumber:    h.match.Metadata.PageNumber,
			SectionTitle:  h.match.Metadata.SectionTitle,
			PageType:      pageType,
			TOCConfidence: h.match.Metadata.TOCConfidence,
			Score:         float32(h.score),
		}
	}

	r.logger.Debug("ranked references",
		"conversation", conversationID,
		"variants", len(variants),
		"merged", len(merged),
		"references", len(refs))
	monitor.Finish(refs)
	return refs, nil
}

// variants returns the original question followed by distinct rewrites.
func (r *Ranker) variants(ctx context.Context, question string) []string {
	rewrites, err := r.rewriter.Rewrite(ctx, question, r.maxVariants-1)
	if err != nil {
		r.logger.Warn("query rewrite failed, using heuristic variants", "err", err)
		rewrites, _ = HeuristicRewriter{}.Rewrite(ctx, question, r.maxVariants-1)
	}
	return dedupeVariants(append([]string{question}, rewrites...), r.maxVariants)
}

// dedupeKey identifies a chunk across variant result lists.
func dedupeKey(m core.Match) string {
	if m.Metadata.ChunkID != "" {
		return m.Metadata.ChunkID
	}
	return strconv.Itoa(m.Metadata.PageNumber) + ":" + firstRunes(m.Metadata.Text, dedupePrefixRunes)
}

// score drops unusable matches and applies the lexical and section boosts.
func score(matches []core.Match, queryTerms []string) []hit {
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m.Metadata.Text) == "" || m.Metadata.PageNumber <= 0 {
			continue
		}
		boosted := float64(m.Score)
		boosted += min(maxOverlapBoost, overlapBoostPerHit*float64(lexicalOverlap(queryTerms, m.Metadata.Text)))
		if m.Metadata.SectionTitle != "" {
			boosted += sectionTitleBoost
		}
		hits = append(hits, hit{
			match: m,
			key:   dedupeKey(m),
			score: boosted,
			toc:   IsTOC(m.Metadata),
		})
	}
	return hits
}

// suppressTOC drops ToC hits when at least two content hits remain.
func (r *Ranker) suppressTOC(hits []hit, monitor Monitor) []hit {
	content := 0
	for _, h := range hits {
		if !h.toc {
			content++
		}
	}
	if content < 2 || content == len(hits) {
		return hits
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.toc {
			monitor.Suppressed(h.match)
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// sortHits orders content before ToC, then by boosted score, page and key.
func sortHits(hits []hit) {
	slices.SortStableFunc(hits, func(a, b hit) int {
		if a.toc != b.toc {
			if a.toc {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.match.Metadata.PageNumber, b.match.Metadata.PageNumber); c != 0 {
			return c
		}
		return strings.Compare(a.key, b.key)
	})
}
