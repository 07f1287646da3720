package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/notify"
	"github.com/poiesic/folio/segment"
	"github.com/poiesic/folio/storage"
)

// Sweeper answers the messages left pending while a document was ingesting.
// pipeline.Pipeline satisfies it.
type Sweeper interface {
	ProcessPending(ctx context.Context, conversationID string) error
}

// Pipeline orchestrates document ingestion for conversations.
type Pipeline struct {
	conversations storage.ConversationRepository
	segmenter     *segment.Segmenter
	processors    []processor
	sweeper       Sweeper
	sweepPool     *ants.Pool
	sweeps        sync.WaitGroup
	notifier      notify.Notifier
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for background pending-message sweeps.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.sweepPool != nil {
			p.sweepPool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.sweepPool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithNotifier sets where progress events are sent.
// Default discards them.
func WithNotifier(notifier notify.Notifier) Option {
	return func(p *Pipeline) error {
		if notifier == nil {
			notifier = notify.Noop()
		}
		p.notifier = notifier
		return nil
	}
}

// WithSegmenter replaces the default segmenter.
func WithSegmenter(segmenter *segment.Segmenter) Option {
	return func(p *Pipeline) error {
		if segmenter != nil {
			p.segmenter = segmenter
		}
		return nil
	}
}

// WithSweeper sets what answers pending messages after a successful ingestion.
// Without one, pending messages are left for the caller.
func WithSweeper(sweeper Sweeper) Option {
	return func(p *Pipeline) error {
		p.sweeper = sweeper
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
// The embedder should batch large requests; see ai.BatchEmbedder.
func NewPipeline(
	conversations storage.ConversationRepository,
	embedder ai.Embedder,
	vectors VectorWriter,
	opts ...Option,
) (*Pipeline, error) {
	if conversations == nil {
		return nil, ErrConversationRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	sweepPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		conversations: conversations,
		sweepPool:     sweepPool,
		notifier:      notify.Noop(),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	if p.segmenter == nil {
		p.segmenter, err = segment.New(segment.WithLogger(p.logger))
		if err != nil {
			p.Release()
			return nil, err
		}
	}

	// Stages are built after options so they get the final logger.
	p.processors = []processor{
		&segmentProcessor{segmenter: p.segmenter, logger: p.logger.With("processor", "segment")},
		&embeddingProcessor{embedder: embedder, logger: p.logger.With("processor", "embed")},
		&indexProcessor{vectors: vectors, logger: p.logger.With("processor", "index")},
	}
	return p, nil
}

// Ingest indexes doc for the conversation and marks it completed. On any
// stage failure the conversation is marked failed and the error returned.
// Pending messages are swept in the background after success.
func (p *Pipeline) Ingest(ctx context.Context, conversationID string, doc *core.Document) error {
	if doc == nil {
		return ErrDocumentRequired
	}
	if _, err := p.conversations.SetProcessingStatus(ctx, conversationID, core.ProcessingProcessing); err != nil {
		return err
	}
	p.notifier.Notify(ctx, conversationID, notify.EventProcessingStarted, map[string]any{
		"title": doc.Title,
		"pages": len(doc.Pages),
	})
	p.logger.Info("ingesting document", "conversation", conversationID, "title", doc.Title, "pages", len(doc.Pages))

	j := &job{conversationID: conversationID, document: doc}
	for _, proc := range p.processors {
		if err := proc.process(ctx, j); err != nil {
			return p.fail(ctx, conversationID, fmt.Errorf("%s stage: %w", proc.name(), err))
		}
	}

	if _, err := p.conversations.SetProcessingStatus(ctx, conversationID, core.ProcessingCompleted); err != nil {
		return p.fail(ctx, conversationID, err)
	}
	p.notifier.Notify(ctx, conversationID, notify.EventIngestionComplete, map[string]any{
		"chunks": len(j.records),
	})
	p.logger.Info("ingested document", "conversation", conversationID, "chunks", len(j.records))

	p.sweep(conversationID)
	return nil
}

// fail marks the conversation failed and returns cause.
func (p *Pipeline) fail(ctx context.Context, conversationID string, cause error) error {
	p.logger.Error("ingestion failed", "conversation", conversationID, "err", cause)
	if _, err := p.conversations.SetProcessingStatus(ctx, conversationID, core.ProcessingFailed); err != nil {
		p.logger.Error("failed to mark conversation failed", "conversation", conversationID, "err", err)
	}
	p.notifier.Notify(ctx, conversationID, notify.EventError, map[string]any{"error": cause.Error()})
	return cause
}

// sweep answers pending messages on the background pool. It runs detached
// from the ingesting request and its failures are only logged.
func (p *Pipeline) sweep(conversationID string) {
	if p.sweeper == nil {
		return
	}

	p.sweeps.Add(1)
	err := p.sweepPool.Submit(func() {
		defer p.sweeps.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic sweeping pending messages", "conversation", conversationID, "panic", r)
			}
		}()
		if err := p.sweeper.ProcessPending(context.Background(), conversationID); err != nil {
			p.logger.Error("error processing pending messages", "conversation", conversationID, "err", err)
		}
	})
	if err != nil {
		p.sweeps.Done()
		p.logger.Error("failed to schedule pending message sweep", "conversation", conversationID, "err", err)
	}
}

// Wait blocks until scheduled sweeps have finished.
func (p *Pipeline) Wait() {
	p.sweeps.Wait()
}

// Release waits for running sweeps and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.Wait()
	if p.sweepPool != nil {
		p.sweepPool.Release()
	}
}
