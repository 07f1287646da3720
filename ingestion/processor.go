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


package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/segment"
)

// job carries one document through the ingestion stages.
type job struct {
	conversationID string
	document       *core.Document
	chunks         []core.Chunk
	records        []*core.VectorRecord
}

// processor is an internal interface for one ingestion stage.
// Stages run in order and each reads what the previous one left on the job.
type processor interface {
	// name identifies the stage in logs and errors.
	name() string

	// process advances the job. An error stops ingestion.
	process(ctx context.Context, j *job) error
}

// segmentProcessor splits the document into chunks.
type segmentProcessor struct {
	segmenter *segment.Segmenter
	logger    *slog.Logger
}

var _ processor = (*segmentProcessor)(nil)

func (sp *segmentProcessor) name() string {
	return "segment"
}

func (sp *segmentProcessor) process(_ context.Context, j *job) error {
	j.chunks = sp.segmenter.Segment(j.document)
	if len(j.chunks) == 0 {
		return fmt.Errorf("%w: %d pages produced no chunks", core.ErrEmptyDocument, len(j.document.Pages))
	}
	sp.logger.Debug("segmented document", "conversation", j.conversationID, "pages", len(j.document.Pages), "chunks", len(j.chunks))
	return nil
}

// VectorWriter is the part of the vector store client used for indexing.
// vectorstore.Client satisfies it.
type VectorWriter interface {
	UpsertBatch(ctx context.Context, records []*core.VectorRecord) error
}

// indexProcessor writes the embedded records to the vector store.
type indexProcessor struct {
	vectors VectorWriter
	logger  *slog.Logger
}

var _ processor = (*indexProcessor)(nil)

func (ip *indexProcessor) name() string {
	return "index"
}

func (ip *indexProcessor) process(ctx context.Context, j *job) error {
	if err := ip.vectors.UpsertBatch(ctx, j.records); err != nil {
		return err
	}
	ip.logger.Debug("indexed records", "conversation", j.conversationID, "records", len(j.records))
	return nil
}
