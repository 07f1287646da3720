// Package postgres stores vectors in PostgreSQL using the pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/vectorstore"
)

const (
	DefaultTable  = "document_chunks"
	minIndexLists = 100
)

var (
	ErrInvalidTable = errors.New("invalid table name")
	ErrDSNRequired  = errors.New("postgres dsn is required")
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Provider implements vectorstore.Provider on a pgx pool.
type Provider struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	logger     *slog.Logger
}

var _ vectorstore.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithTable sets the table holding the vectors.
func WithTable(name string) Option {
	return func(p *Provider) error {
		if !tableName.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidTable, name)
		}
		p.table = name
		return nil
	}
}

// WithDimensions fixes the vector column dimension. Zero leaves it untyped,
// which prevents building an ivfflat index.
func WithDimensions(n int) Option {
	return func(p *Provider) error {
		if n < 0 {
			return fmt.Errorf("dimensions must be non-negative, got %d", n)
		}
		p.dimensions = n
		return nil
	}
}

// NewProvider wraps an existing pool. The pool must have pgvector types
// registered, see Connect.
func NewProvider(pool *pgxpool.Pool, opts ...Option) (*Provider, error) {
	p := &Provider{
		pool:   pool,
		table:  DefaultTable,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pgvector", "table", p.table)
	return p, nil
}

// Connect opens a pool for dsn, enables the vector extension and creates the
// table if needed.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Provider, error) {
	if dsn == "" {
		return nil, ErrDSNRequired
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse dsn: %w", err)
	}

	// The extension must exist before types can be registered on new connections.
	bootstrap, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, classify(fmt.Errorf("unable to connect: %w", err))
	}
	_, err = bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to create vector extension: %w", err)
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, classify(fmt.Errorf("unable to create pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("unable to reach database: %w", err))
	}

	p, err := NewProvider(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	p.logger.Info("connected to vector database")
	return p, nil
}

// Close closes the pool.
func (p *Provider) Close() {
	p.pool.Close()
}

func (p *Provider) vectorType() string {
	if p.dimensions > 0 {
		return fmt.Sprintf("vector(%d)", p.dimensions)
	}
	return "vector"
}

// EnsureSchema creates the vector table and its conversation index.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			chunk_index     INTEGER NOT NULL,
			page_number     INTEGER NOT NULL,
			section_title   TEXT NOT NULL DEFAULT '',
			page_type       TEXT NOT NULL DEFAULT '',
			toc_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
			text            TEXT NOT NULL,
			embedding       %[2]s NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_conversation_idx ON %[1]s (conversation_id);
	`, p.table, p.vectorType())

	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return classify(fmt.Errorf("failed to create schema: %w", err))
	}
	return nil
}

// RebuildIndex recreates the ivfflat cosine index sized to the current row count.
func (p *Provider) RebuildIndex(ctx context.Context) error {
	if p.dimensions == 0 {
		return errors.New("ivfflat index requires fixed dimensions")
	}

	var count int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.table)).Scan(&count); err != nil {
		return classify(fmt.Errorf("failed to count vectors: %w", err))
	}
	lists := max(int(math.Sqrt(float64(count))), minIndexLists)

	index := p.table + "_embedding_idx"
	if _, err := p.pool.Exec(ctx, "DROP INDEX IF EXISTS "+index); err != nil {
		return classify(fmt.Errorf("failed to drop index: %w", err))
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)",
		index, p.table, lists)
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return classify(fmt.Errorf("failed to create index: %w", err))
	}

	p.logger.Info("vector index rebuilt", "rows", count, "lists", lists)
	return nil
}

// Upsert writes records in one transaction, replacing rows with the same id.
func (p *Provider) Upsert(ctx context.Context, records []*core.VectorRecord) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, chunk_index, page_number, section_title,
			page_type, toc_confidence, confidence, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			chunk_index     = EXCLUDED.chunk_index,
			page_number     = EXCLUDED.page_number,
			section_title   = EXCLUDED.section_title,
			page_type       = EXCLUDED.page_type,
			toc_confidence  = EXCLUDED.toc_confidence,
			confidence      = EXCLUDED.confidence,
			text            = EXCLUDED.text,
			embedding       = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(stmt, r.ID, r.ConversationID, r.ChunkIndex, r.PageNumber, r.SectionTitle,
			r.PageType, r.TOCConfidence, r.Confidence, r.Text, pgvector.NewVector(r.Vector))
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return classify(fmt.Errorf("failed to upsert %d vectors: %w", len(records), err))
	}
	return nil
}

// Query returns the topK rows of the conversation closest by cosine distance.
func (p *Provider) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]core.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT id, conversation_id, chunk_index, page_number, section_title, page_type,
			toc_confidence, confidence, text, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE conversation_id = $2
		ORDER BY embedding <=> $1, id
		LIMIT $3`, p.table)

	rows, err := p.pool.Query(ctx, stmt, pgvector.NewVector(vector), filter.ConversationID, topK)
	if err != nil {
		return nil, classify(fmt.Errorf("vector query failed: %w", err))
	}
	defer rows.Close()

	var matches []core.Match
	for rows.Next() {
		var (
			r     core.VectorRecord
			score float64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.ChunkIndex, &r.PageNumber, &r.SectionTitle,
			&r.PageType, &r.TOCConfidence, &r.Confidence, &r.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, core.MatchFromRecord(&r, float32(score)))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("vector query failed: %w", err))
	}
	return matches, nil
}

// DeleteByFilter removes every row of the conversation.
func (p *Provider) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}

	tag, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE conversation_id = $1", p.table), filter.ConversationID)
	if err != nil {
		return 0, classify(fmt.Errorf("vector delete failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return 0, vectorstore.ErrNoVectorsFound
	}
	return int(tag.RowsAffected()), nil
}

// classify marks connection-level failures as transient so the client retries them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return retry.MarkTransient(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P01 is admin shutdown.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" {
			return retry.MarkTransient(err)
		}
		return err
	}
	if retry.IsTransient(err) {
		return retry.MarkTransient(err)
	}
	return err
}
