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


package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 3
)

// Client wraps a Provider with batching, bounded concurrency, retry and
// mandatory conversation scoping.
type Client struct {
	provider    Provider
	policy      retry.Policy
	batchSize   int
	concurrency int
	pool        *ants.Pool
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		c.policy = policy
		return nil
	}
}

// WithBatchSize sets how many records go into one upsert call.
func WithBatchSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be greater than 0, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithConcurrency sets how many upsert batches run at once.
func WithConcurrency(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be greater than 0, got %d", n)
		}
		c.concurrency = n
		return nil
	}
}

// NewClient creates a client over provider.
func NewClient(provider Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}

	c := &Client{
		provider:    provider,
		policy:      retry.DefaultPolicy(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "vector-store")

	pool, err := ants.NewPool(c.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create upsert pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

// Release stops the upsert workers.
func (c *Client) Release() {
	c.pool.Release()
}

// UpsertBatch writes records in fixed-size batches issued concurrently.
// Any failed batch fails the whole call; batches that succeeded are not undone.
func (c *Client) UpsertBatch(ctx context.Context, records []*core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		if err := core.ValidateVectorRecord(record); err != nil {
			return err
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	batches := 0
	for start := 0; start < len(records); start += c.batchSize {
		batch := records[start:min(start+c.batchSize, len(records))]
		first := start
		batches++
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			err := c.policy.Do(ctx, func(ctx context.Context) error {
				return c.provider.Upsert(ctx, batch)
			})
			if err != nil {
				c.logger.Error("upsert batch failed", "offset", first, "size", len(batch), "err", err)
				fail(fmt.Errorf("batch at %d: %w", first, err))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit batch at %d: %w", first, err))
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("upsert failed: %w", errors.Join(errs...))
	}
	c.logger.Debug("upserted vectors", "records", len(records), "batches", batches)
	return nil
}

// Query returns the topK nearest records of the filtered conversation.
// Failures are logged and yield an empty result.
func (c *Client) Query(ctx context.Context, vector []float32, topK int, filter Filter) []core.Match {
	if err := filter.Validate(); err != nil {
		c.logger.Error("refusing unscoped vector query", "err", err)
		return nil
	}

	var matches []core.Match
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		matches, err = c.provider.Query(ctx, vector, topK, filter)
		return err
	})
	if err != nil {
		c.logger.Warn("vector query failed, treating as no results",
			"conversation", filter.ConversationID, "topK", topK, "err", err)
		return nil
	}

	scoped := matches[:0]
	for _, m := range matches {
		if m.Metadata.ConversationID != filter.ConversationID {
			c.logger.Error("provider returned a match from another conversation",
				"conversation", filter.ConversationID, "match", m.ID, "owner", m.Metadata.ConversationID)
			continue
		}
		scoped = append(scoped, m)
	}
	return scoped
}

// DeleteByFilter removes all vectors of the filtered conversation.
// Finding nothing to delete is success.
func (c *Client) DeleteByFilter(ctx context.Context, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}

	var deleted int
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = c.provider.DeleteByFilter(ctx, filter)
		return err
	})
	if errors.Is(err, ErrNoVectorsFound) {
		c.logger.Debug("no vectors to delete", "conversation", filter.ConversationID)
		return nil
	}
	if err != nil {
		c.logger.Error("vector delete failed", "conversation", filter.ConversationID, "err", err)
		return err
	}
	c.logger.Info("deleted vectors", "conversation", filter.ConversationID, "count", deleted)
	return nil
}
