// Package badger stores vectors in the local BadgerDB database and answers
// similarity queries by scanning one conversation's records.
package badger

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	kv "github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/vectorstore"
)

// Provider implements vectorstore.Provider on a shared Backend.
type Provider struct {
	backend *kv.Backend
}

var _ vectorstore.Provider = (*Provider)(nil)

// NewProvider creates a provider that stores vectors in backend.
func NewProvider(backend *kv.Backend) *Provider {
	return &Provider{backend: backend}
}

// Upsert inserts or replaces records in a single transaction.
func (p *Provider) Upsert(ctx context.Context, records []*core.VectorRecord) error {
	return p.backend.Update(func(tx *badger.Txn) error {
		for _, record := range records {
			value, err := storage.MarshalVectorRecord(record)
			if err != nil {
				return err
			}
			if err := tx.Set(kv.MakeVectorKey(record.ConversationID, record.ID), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query scores every record of the conversation by cosine similarity.
// Ties are broken by record ID.
func (p *Provider) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]core.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var matches []core.Match
	err := p.backend.View(func(tx *badger.Txn) error {
		return p.backend.ScanPrefix(tx, kv.MakeVectorPrefix(filter.ConversationID), func(_, val []byte) error {
			record, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			matches = append(matches, core.MatchFromRecord(record, cosine(vector, record.Vector)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(matches, func(a, b core.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteByFilter removes every record of the conversation.
func (p *Provider) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	deleted, err := p.backend.DeletePrefix(kv.MakeVectorPrefix(filter.ConversationID))
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, vectorstore.ErrNoVectorsFound
	}
	return deleted, nil
}

// cosine returns the cosine similarity of a and b over their common length.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
