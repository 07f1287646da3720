package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// BatchEmbedder splits large embedding requests into fixed-size batches and runs a bounded
// number of them concurrently. Provider errors are returned to the caller without retry.
type BatchEmbedder struct {
	embedder  Embedder
	batchSize int
	pool      *ants.Pool
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ Embedder = (*BatchEmbedder)(nil)

// NewBatchEmbedder wraps embedder using the batching settings in config.
func NewBatchEmbedder(embedder Embedder, config *Config, logger *slog.Logger) (*BatchEmbedder, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := config.BatchSize
	if batchSize < 1 {
		batchSize = 100
	}
	concurrency := config.MaxConcurrentBatches
	if concurrency < 1 {
		concurrency = 3
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &BatchEmbedder{
		embedder:  embedder,
		batchSize: batchSize,
		pool:      pool,
		limiter:   limiter,
		logger:    logger.With("component", "batch-embedder"),
	}, nil
}

// EmbedText embeds a single text.
func (b *BatchEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.embedder.EmbedText(ctx, text)
}

// EmbedTexts embeds texts in batches of at most BatchSize, preserving input order.
func (b *BatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	batches := splitBatches(len(texts), b.batchSize)
	b.logger.Debug("embedding texts", "texts", len(texts), "batches", len(batches))

	results := make([][]float32, len(texts))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, bounds := range batches {
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			errs[i] = b.embedBatch(ctx, texts[bounds[0]:bounds[1]], results[bounds[0]:bounds[1]])
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submitting batch %d: %w", i, err)
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		b.logger.Error("embedding failed", "texts", len(texts), "err", err)
		return nil, err
	}
	return results, nil
}

func (b *BatchEmbedder) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	vectors, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(texts), len(vectors))
	}
	copy(out, vectors)
	return nil
}

func (b *BatchEmbedder) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// Release stops the worker pool. The embedder must not be used afterwards.
func (b *BatchEmbedder) Release() {
	b.pool.Release()
}

// splitBatches returns [start, end) bounds covering n items in order.
func splitBatches(n, size int) [][2]int {
	batches := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batches = append(batches, [2]int{start, end})
	}
	return batches
}
