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


package folio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/answer"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/notify"
	"github.com/poiesic/folio/parse"
	"github.com/poiesic/folio/pipeline"
	"github.com/poiesic/folio/retrieval"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/vectorstore"
	localvectors "github.com/poiesic/folio/vectorstore/badger"
)

// ErrNoSourceFile is returned when a conversation has no file to re-read.
var ErrNoSourceFile = errors.New("conversation has no source file")

// ApologyText is shown in place of an answer that could not be produced.
const ApologyText = "Sorry, I ran into a problem while answering that question. Please try asking again."

// Engine wires storage, model providers and the pipelines behind the
// document question-answering operations.
type Engine struct {
	backend       *badger.Backend
	conversations storage.ConversationRepository
	messages      storage.MessageRepository
	provider      ai.AIProvider
	embedder      *ai.BatchEmbedder
	vectors       *vectorstore.Client
	answers       *pipeline.Pipeline
	ingest        *ingestion.Pipeline
	parser        *parse.Parser
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	inMemory       bool
	aiConfig       *ai.Config
	provider       ai.AIProvider
	rewriter       ai.QueryRewriter
	llmRewrites    bool
	vectorProvider vectorstore.Provider
	notifier       notify.Notifier
	logger         *slog.Logger
}

// WithInMemory keeps all records in memory. The path is ignored.
func WithInMemory() Option {
	return func(o *engineOptions) {
		o.inMemory = true
	}
}

// WithAIConfig sets the model provider settings.
// Default is ai.DefaultConfig().
func WithAIConfig(config *ai.Config) Option {
	return func(o *engineOptions) {
		o.aiConfig = config
	}
}

// WithProvider supplies the model provider instead of building one from the
// AI config. The engine closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithRewriter sets the query rewriter used for retrieval variants.
func WithRewriter(rewriter ai.QueryRewriter) Option {
	return func(o *engineOptions) {
		o.rewriter = rewriter
	}
}

// WithLLMRewrites asks the completion model for query paraphrases when the
// engine builds its own provider.
func WithLLMRewrites(enabled bool) Option {
	return func(o *engineOptions) {
		o.llmRewrites = enabled
	}
}

// WithVectorProvider stores vectors in provider instead of the local database.
// The caller keeps ownership of provider.
func WithVectorProvider(provider vectorstore.Provider) Option {
	return func(o *engineOptions) {
		o.vectorProvider = provider
	}
}

// WithNotifier sets where pipeline events are sent.
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *engineOptions) {
		o.notifier = notifier
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine opens the database at path and builds the pipelines.
func NewEngine(path string, opts ...Option) (*Engine, error) {
	options := &engineOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.aiConfig == nil {
		options.aiConfig = ai.DefaultConfig()
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.notifier == nil {
		options.notifier = notify.NewLogNotifier(options.logger)
	}

	var (
		convRepo storage.ConversationRepository
		msgRepo  storage.MessageRepository
		backend  *badger.Backend
		err      error
	)
	if options.inMemory {
		convRepo, msgRepo, backend, err = badger.NewMemoryRepositories()
	} else {
		convRepo, msgRepo, backend, err = badger.NewRepositories(path)
	}
	if err != nil {
		return nil, err
	}

	e := &Engine{
		backend:       backend,
		conversations: convRepo,
		messages:      msgRepo,
		parser:        parse.NewParser(options.logger),
		logger:        options.logger.With("component", "engine"),
	}
	if err := e.build(options); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// build creates the provider, vector client and pipelines.
func (e *Engine) build(options *engineOptions) error {
	e.provider = options.provider
	if e.provider == nil {
		provider, err := openai.NewProvider(options.aiConfig)
		if err != nil {
			return err
		}
		e.provider = provider
		if options.llmRewrites && options.rewriter == nil {
			options.rewriter = provider.Rewriter()
		}
	}

	var err error
	e.embedder, err = ai.NewBatchEmbedder(e.provider.Embedder(), options.aiConfig, options.logger)
	if err != nil {
		return err
	}

	vectorProvider := options.vectorProvider
	if vectorProvider == nil {
		vectorProvider = localvectors.NewProvider(e.backend)
	}
	e.vectors, err = vectorstore.NewClient(vectorProvider, vectorstore.WithLogger(options.logger))
	if err != nil {
		return err
	}

	ranker, err := retrieval.NewRanker(e.embedder, e.vectors,
		retrieval.WithLogger(options.logger),
		retrieval.WithRewriter(options.rewriter))
	if err != nil {
		return err
	}
	generator, err := answer.NewGenerator(e.provider.Completer(), answer.WithLogger(options.logger))
	if err != nil {
		return err
	}
	e.answers, err = pipeline.NewPipeline(e.conversations, e.messages, ranker, generator,
		pipeline.WithLogger(options.logger),
		pipeline.WithNotifier(options.notifier))
	if err != nil {
		return err
	}

	e.ingest, err = ingestion.NewPipeline(e.conversations, e.embedder, e.vectors,
		ingestion.WithLogger(options.logger),
		ingestion.WithNotifier(options.notifier),
		ingestion.WithSweeper(e.answers))
	return err
}

// Close waits for background work and releases every resource.
func (e *Engine) Close() error {
	if e.ingest != nil {
		e.ingest.Release()
	}
	if e.vectors != nil {
		e.vectors.Release()
	}
	if e.embedder != nil {
		e.embedder.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}

	var errs []error
	if err := e.messages.Close(); err != nil {
		e.logger.Error("error closing message repository", "err", err)
		errs = append(errs, err)
	}
	if err := e.conversations.Close(); err != nil {
		e.logger.Error("error closing conversation repository", "err", err)
		errs = append(errs, err)
	}
	if err := e.backend.Close(); err != nil {
		e.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CreateConversation starts a conversation for a document that will be ingested.
func (e *Engine) CreateConversation(ctx context.Context, title, fileRef string) (*core.Conversation, error) {
	return e.conversations.AddConversation(ctx, &core.Conversation{Title: title, FileRef: fileRef})
}

// Conversation returns a conversation by id.
func (e *Engine) Conversation(ctx context.Context, id string) (*core.Conversation, error) {
	return e.conversations.GetConversation(ctx, id)
}

// Conversations lists every conversation by creation time.
func (e *Engine) Conversations(ctx context.Context) ([]*core.Conversation, error) {
	return e.conversations.ListConversations(ctx)
}

// Messages returns a conversation's messages in creation order.
func (e *Engine) Messages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	return e.messages.ListMessages(ctx, conversationID)
}

// Ingest indexes a parsed document for the conversation.
func (e *Engine) Ingest(ctx context.Context, conversationID string, doc *core.Document) error {
	return e.ingest.Ingest(ctx, conversationID, doc)
}

// IngestText indexes plain text. Form feeds separate pages.
func (e *Engine) IngestText(ctx context.Context, conversationID, text string) error {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	return e.Ingest(ctx, conversationID, parse.ParseText(conv.Title, text))
}

// IngestFile creates a conversation for the file at path and indexes it.
// PDFs are parsed page by page; anything else is read as text. The
// conversation is returned even when ingestion fails.
func (e *Engine) IngestFile(ctx context.Context, path string) (*core.Conversation, error) {
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	conv, err := e.CreateConversation(ctx, title, path)
	if err != nil {
		return nil, err
	}

	doc, err := e.parser.ParseFile(path)
	if err != nil {
		if _, setErr := e.conversations.SetProcessingStatus(ctx, conv.ID, core.ProcessingFailed); setErr != nil {
			e.logger.Error("failed to mark conversation failed", "conversation", conv.ID, "err", setErr)
		}
		return e.refresh(ctx, conv), fmt.Errorf("failed to parse %s: %w", path, err)
	}

	err = e.Ingest(ctx, conv.ID, doc)
	return e.refresh(ctx, conv), err
}

// Reingest re-reads a conversation's source file and rebuilds its vectors.
// Stale vectors are purged first so a shorter document leaves no orphans.
func (e *Engine) Reingest(ctx context.Context, conversationID string) error {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.FileRef == "" {
		return fmt.Errorf("%w: %s", ErrNoSourceFile, conversationID)
	}
	doc, err := e.parser.ParseFile(conv.FileRef)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", conv.FileRef, err)
	}
	if err := e.PurgeVectors(ctx, conversationID); err != nil {
		return err
	}
	return e.Ingest(ctx, conversationID, doc)
}

// refresh rereads conv, falling back to the stale copy.
func (e *Engine) refresh(ctx context.Context, conv *core.Conversation) *core.Conversation {
	if fresh, err := e.conversations.GetConversation(ctx, conv.ID); err == nil {
		return fresh
	}
	return conv
}

// Ask stores a question and answers it when the document is ready.
//
// The reply is nil while the document is still ingesting; the question is
// answered once ingestion completes. When answering fails the error is
// recorded on the question and an unsaved apology is returned as the reply.
func (e *Engine) Ask(ctx context.Context, conversationID, question string) (*core.Message, *core.Message, error) {
	msg, err := e.answers.Submit(ctx, conversationID, question)
	if err != nil {
		return nil, nil, err
	}

	// A pending question is retried here too: ingestion may have finished
	// after Submit read the conversation but before its sweep saw the question.
	reply, err := e.answers.Answer(ctx, msg.ID)
	if err != nil {
		return e.reload(ctx, msg), apology(msg, err), nil
	}
	msg = e.reload(ctx, msg)
	if reply == nil && msg.Status == core.MessagePending {
		e.logger.Info("document not ready, question queued", "conversation", conversationID, "message", msg.ID)
	}
	return msg, reply, nil
}

// Answer answers a stored user message. See pipeline.Pipeline.Answer.
func (e *Engine) Answer(ctx context.Context, messageID string) (*core.Message, error) {
	return e.answers.Answer(ctx, messageID)
}

// PurgeVectors deletes a conversation's vectors.
func (e *Engine) PurgeVectors(ctx context.Context, conversationID string) error {
	return e.vectors.DeleteByFilter(ctx, vectorstore.Filter{ConversationID: conversationID})
}

// Wait blocks until background pending-message sweeps have finished.
func (e *Engine) Wait() {
	e.ingest.Wait()
}

func (e *Engine) reload(ctx context.Context, msg *core.Message) *core.Message {
	if fresh, err := e.messages.GetMessage(ctx, msg.ID); err == nil {
		return fresh
	}
	return msg
}

// apology builds the reply shown when answering failed. It is not stored.
func apology(question *core.Message, cause error) *core.Message {
	now := time.Now().UTC()
	return &core.Message{
		ConversationID:  question.ConversationID,
		Role:            core.RoleAssistant,
		Text:            ApologyText,
		FormattedText:   ApologyText,
		ContentType:     core.ContentTypeText,
		Status:          core.MessageError,
		ParentMessageID: question.ID,
		Error:           cause.Error(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
