package ai_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d", i)
	}
	return texts
}

func TestNewBatchEmbedder(t *testing.T) {
	t.Run("nil embedder", func(t *testing.T) {
		_, err := ai.NewBatchEmbedder(nil, nil, nil)
		assert.ErrorIs(t, err, ai.ErrEmbedderRequired)
	})

	t.Run("nil config falls back to defaults", func(t *testing.T) {
		b, err := ai.NewBatchEmbedder(mock.NewMockEmbedder(), nil, nil)
		require.NoError(t, err)
		b.Release()
	})
}

func TestBatchEmbedder_EmbedTexts(t *testing.T) {
	ctx := context.Background()

	t.Run("empty input", func(t *testing.T) {
		b, err := ai.NewBatchEmbedder(mock.NewMockEmbedder(), ai.DefaultConfig(), nil)
		require.NoError(t, err)
		defer b.Release()

		_, err = b.EmbedTexts(ctx, nil)
		assert.ErrorIs(t, err, ai.ErrEmptyInput)

		_, err = b.EmbedText(ctx, "")
		assert.ErrorIs(t, err, ai.ErrEmptyInput)
	})

	t.Run("splits into batches and preserves order", func(t *testing.T) {
		var mu sync.Mutex
		var sizes []int
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			mu.Lock()
			sizes = append(sizes, len(texts))
			mu.Unlock()
			out := make([][]float32, len(texts))
			for i, text := range texts {
				var n int
				fmt.Sscanf(text, "text number %d", &n)
				out[i] = []float32{float32(n)}
			}
			return out, nil
		}

		b, err := ai.NewBatchEmbedder(embedder, ai.NewConfig(ai.WithBatchSize(100)), nil)
		require.NoError(t, err)
		defer b.Release()

		vectors, err := b.EmbedTexts(ctx, makeTexts(250))
		require.NoError(t, err)
		require.Len(t, vectors, 250)
		for i, v := range vectors {
			assert.Equal(t, float32(i), v[0])
		}
		assert.ElementsMatch(t, []int{100, 100, 50}, sizes)
	})

	t.Run("bounds concurrent batches", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return make([][]float32, len(texts)), nil
		}

		b, err := ai.NewBatchEmbedder(embedder, ai.NewConfig(ai.WithBatchSize(10), ai.WithMaxConcurrentBatches(3)), nil)
		require.NoError(t, err)
		defer b.Release()

		_, err = b.EmbedTexts(ctx, makeTexts(100))
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(3))
		assert.GreaterOrEqual(t, peak.Load(), int32(1))
	})

	t.Run("single batch failure fails the call", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		var calls atomic.Int32
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			if calls.Add(1) == 2 {
				return nil, errors.New("provider unavailable")
			}
			return make([][]float32, len(texts)), nil
		}

		b, err := ai.NewBatchEmbedder(embedder, ai.NewConfig(ai.WithBatchSize(10)), nil)
		require.NoError(t, err)
		defer b.Release()

		vectors, err := b.EmbedTexts(ctx, makeTexts(30))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider unavailable")
		assert.Nil(t, vectors)
		assert.Equal(t, int32(3), calls.Load(), "errors are not retried")
	})

	t.Run("count mismatch", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}

		b, err := ai.NewBatchEmbedder(embedder, ai.DefaultConfig(), nil)
		require.NoError(t, err)
		defer b.Release()

		_, err = b.EmbedTexts(ctx, makeTexts(2))
		assert.ErrorIs(t, err, ai.ErrEmbeddingMismatch)
	})
}

func TestBatchEmbedder_RateLimit(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, err := ai.NewBatchEmbedder(embedder, ai.NewConfig(ai.WithRequestsPerSecond(1)), nil)
	require.NoError(t, err)
	defer b.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = b.EmbedText(ctx, "first")
	require.NoError(t, err)

	// The bucket is empty now; the next call cannot be admitted before the deadline.
	_, err = b.EmbedText(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, embedder.CallCount())
}
