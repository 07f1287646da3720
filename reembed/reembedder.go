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


package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
)

// Target is the document library being rebuilt. *folio.Engine satisfies it.
type Target interface {
	Conversations(ctx context.Context) ([]*core.Conversation, error)
	Reingest(ctx context.Context, conversationID string) error
}

// Config holds configuration for a rebuild.
type Config struct {
	// ReportInterval is how often progress is written, in documents.
	ReportInterval int

	// MaxAttempts bounds the tries per document. Only transient errors retry.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// IncludeFailed also rebuilds documents whose last ingestion failed.
	IncludeFailed bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 1,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
		IncludeFailed:  true,
	}
}

// Summary describes a finished rebuild.
type Summary struct {
	Total   int
	Rebuilt int
	Failed  int
	Skipped int
	Elapsed time.Duration
}

// Reembedder rebuilds the vectors of every document in a Target.
type Reembedder struct {
	target   Target
	config   *Config
	policy   retry.Policy
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a reembedder writing progress to progress
// (typically os.Stderr). A nil config uses DefaultConfig.
func NewReembedder(target Target, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if target == nil {
		return nil, ErrTargetRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = config.MaxAttempts
	policy.BaseDelay = config.RetryDelay
	if policy.MaxDelay < config.RetryDelay {
		policy.MaxDelay = config.RetryDelay
	}

	return &Reembedder{
		target:   target,
		config:   config,
		policy:   policy,
		progress: progress,
		logger:   logger.With("component", "reembedder"),
	}, nil
}

// Run rebuilds every eligible document. A failing document does not stop
// the others; all failures are joined into the returned error.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	conversations, err := r.target.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summary := &Summary{}
	eligible := make([]*core.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if r.eligible(conv) {
			eligible = append(eligible, conv)
		} else {
			summary.Skipped++
		}
	}
	summary.Total = len(eligible)

	if len(eligible) == 0 {
		fmt.Fprintf(r.progress, "No documents to reembed (%d skipped)\n", summary.Skipped)
		return summary, nil
	}
	fmt.Fprintf(r.progress, "Reembedding %d documents\n", len(eligible))

	tracker := NewProgress(r.progress, len(eligible), r.config.ReportInterval)
	var errs []error
	for _, conv := range eligible {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := r.policy.Do(ctx, func(ctx context.Context) error {
			return r.target.Reingest(ctx, conv.ID)
		})
		if err != nil {
			r.logger.Error("reembedding failed", "conversation", conv.ID, "file", conv.FileRef, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", conv.ID, err))
		}
		tracker.Record(err == nil)
	}
	tracker.Finish()

	done, failed := tracker.Counts()
	summary.Rebuilt = done - failed
	summary.Failed = failed
	summary.Elapsed = tracker.Elapsed()

	fmt.Fprintf(r.progress, "Reembedding complete: %d rebuilt, %d failed, %d skipped in %v\n",
		summary.Rebuilt, summary.Failed, summary.Skipped, summary.Elapsed.Round(time.Millisecond))

	return summary, errors.Join(errs...)
}

func (r *Reembedder) eligible(conv *core.Conversation) bool {
	if conv.FileRef == "" {
		return false
	}
	switch conv.ProcessingStatus {
	case core.ProcessingCompleted:
		return true
	case core.ProcessingFailed:
		return r.config.IncludeFailed
	default:
		return false
	}
}
