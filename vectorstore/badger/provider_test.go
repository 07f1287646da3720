package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/core"
	kv "github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/vectorstore"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	backend, err := kv.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewProvider(backend)
}

func record(conv string, idx int, vector []float32, page int) *core.VectorRecord {
	return &core.VectorRecord{
		ID:             core.ChunkID(conv, idx),
		ConversationID: conv,
		ChunkIndex:     idx,
		Vector:         vector,
		Text:           fmt.Sprintf("chunk %d of %s", idx, conv),
		PageNumber:     page,
	}
}

func TestQuery_RanksByCosineWithinConversation(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, []*core.VectorRecord{
		record("a", 0, []float32{1, 0, 0}, 5),
		record("a", 1, []float32{0.7, 0.7, 0}, 6),
		record("a", 2, []float32{0, 0, 1}, 7),
		record("b", 0, []float32{1, 0, 0}, 1),
	}))

	matches, err := p.Query(ctx, []float32{1, 0, 0}, 2, vectorstore.Filter{ConversationID: "a"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a-0", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "a-1", matches[1].ID)
	for _, m := range matches {
		assert.Equal(t, "a", m.Metadata.ConversationID)
		assert.Equal(t, core.Fingerprint(m.ID), m.Metadata.ChunkID)
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, []*core.VectorRecord{record("a", 0, []float32{1, 0}, 1)}))
	updated := record("a", 0, []float32{0, 1}, 2)
	updated.Text = "replacement"
	require.NoError(t, p.Upsert(ctx, []*core.VectorRecord{updated}))

	matches, err := p.Query(ctx, []float32{0, 1}, 10, vectorstore.Filter{ConversationID: "a"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "replacement", matches[0].Metadata.Text)
	assert.Equal(t, 2, matches[0].Metadata.PageNumber)
}

func TestDeleteByFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, []*core.VectorRecord{
		record("a", 0, []float32{1}, 1),
		record("a", 1, []float32{1}, 1),
		record("ab", 0, []float32{1}, 1),
	}))

	n, err := p.DeleteByFilter(ctx, vectorstore.Filter{ConversationID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = p.DeleteByFilter(ctx, vectorstore.Filter{ConversationID: "a"})
	assert.ErrorIs(t, err, vectorstore.ErrNoVectorsFound)

	matches, err := p.Query(ctx, []float32{1}, 10, vectorstore.Filter{ConversationID: "ab"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestQuery_RequiresFilter(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Query(context.Background(), []float32{1}, 5, vectorstore.Filter{})
	assert.ErrorIs(t, err, vectorstore.ErrFilterRequired)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}
