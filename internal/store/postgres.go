package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/errgroup"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

const pgChunkColumns = `chunk_id, source_path, chunk_index, text, summary,
	source_type, language, symbol_type, symbol_name, start_line, end_line, metadata`

const pgUpsertChunkSQL = `
INSERT INTO chunks (
	chunk_id, source_path, chunk_index, text, summary, embedding,
	source_type, language, symbol_type, symbol_name, start_line, end_line, metadata
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (source_path, chunk_index) DO UPDATE SET
	chunk_id    = EXCLUDED.chunk_id,
	text        = EXCLUDED.text,
	summary     = EXCLUDED.summary,
	embedding   = EXCLUDED.embedding,
	source_type = EXCLUDED.source_type,
	language    = EXCLUDED.language,
	symbol_type = EXCLUDED.symbol_type,
	symbol_name = EXCLUDED.symbol_name,
	start_line  = EXCLUDED.start_line,
	end_line    = EXCLUDED.end_line,
	metadata    = EXCLUDED.metadata,
	updated_at  = now()`

// Postgres is the relational backend: chunk rows, a pgvector HNSW index for
// semantic retrieval, and a generated tsvector column for keyword retrieval,
// all in one database.
type Postgres struct {
	mu   sync.RWMutex
	pool *pgxpool.Pool
	cfg  config.PostgresConfig

	meta    EmbeddingMeta
	metaSet bool
	retry   errors.RetryConfig
	closed  bool
}

var _ Backend = (*Postgres)(nil)

// NewPostgres connects to the configured database and registers pgvector
// types on every pooled connection. Initialize must run before any other
// operation.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidConfig, "parse postgres dsn", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "connect to postgres", err)
	}
	return &Postgres{pool: pool, cfg: cfg, retry: errors.DefaultRetryConfig()}, nil
}

// Pool exposes the connection pool so sibling stores (the graph triple
// store) share it instead of opening a second one.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Initialize applies migrations, validates persisted embedding metadata, and
// ensures the chunks table exists with the configured vector width.
func (p *Postgres) Initialize(ctx context.Context, meta EmbeddingMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	if meta.Dimension <= 0 {
		return errors.Newf(errors.KindInvalidConfig, "embedding dimension must be positive, got %d", meta.Dimension)
	}

	if err := runMigrations(ctx, p.cfg.DSN); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "run migrations", err)
	}

	stored, found, err := p.readMeta(ctx)
	if err != nil {
		return err
	}
	if found && (stored.Dimension != meta.Dimension || stored.Model != meta.Model) {
		return dimensionMismatch(stored, meta)
	}
	if !found {
		// No metadata means no data (fresh install or post-reset); drop any
		// leftover table so the vector width can change with the provider.
		if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS chunks`); err != nil {
			return errors.Wrap(errors.KindStorageUnavailable, "drop stale chunks table", err)
		}
	}

	if _, err := p.pool.Exec(ctx, p.chunksDDL(meta.Dimension)); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "create chunks table", err)
	}

	p.meta = meta
	p.metaSet = found
	return nil
}

// chunksDDL renders the chunk table and index DDL for the given vector
// width. HNSW parameters fall back to pgvector's defaults when unset.
func (p *Postgres) chunksDDL(dims int) string {
	m := p.cfg.HNSW.M
	if m == 0 {
		m = 16
	}
	efConstruction := p.cfg.HNSW.EfConstruction
	if efConstruction == 0 {
		efConstruction = 64
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	chunk_index INT  NOT NULL,
	text        TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	embedding   vector(%d),
	source_type TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	symbol_type TEXT NOT NULL DEFAULT '',
	symbol_name TEXT NOT NULL DEFAULT '',
	start_line  INT NOT NULL DEFAULT 0,
	end_line    INT NOT NULL DEFAULT 0,
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	ts_text     tsvector GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(summary, '') || ' ' || text)
	) STORED,
	UNIQUE (source_path, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_source_path_idx ON chunks (source_path);
CREATE INDEX IF NOT EXISTS chunks_ts_text_gin ON chunks USING GIN (ts_text);
CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw ON chunks
	USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d);
`, dims, vectorOpclass(p.cfg.Metric), m, efConstruction)
}

// Meta reports the persisted embedding metadata.
func (p *Postgres) Meta(ctx context.Context) (EmbeddingMeta, bool, error) {
	return p.readMeta(ctx)
}

func (p *Postgres) readMeta(ctx context.Context) (EmbeddingMeta, bool, error) {
	var m EmbeddingMeta
	err := p.pool.QueryRow(ctx, `SELECT model, dimension FROM embedding_meta WHERE id = 1`).
		Scan(&m.Model, &m.Dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmbeddingMeta{}, false, nil
	}
	if err != nil {
		return EmbeddingMeta{}, false, errors.Wrap(errors.KindStorageUnavailable, "read embedding meta", err)
	}
	return m, true, nil
}

// Upsert writes chunks in one transaction, persisting the embedding
// metadata record on first ingestion.
func (p *Postgres) Upsert(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	for _, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = NewChunkID(c.SourcePath, c.ChunkIndex)
		}
		if len(c.Embedding) != p.meta.Dimension {
			return errors.Newf(errors.KindStorageDimensionMismatch,
				"chunk %s has %d dimensions, index expects %d", c.ChunkID, len(c.Embedding), p.meta.Dimension)
		}
	}

	return errors.Retry(ctx, p.retry, func() error {
		return classifyPGTransient(p.upsertTx(ctx, chunks))
	})
}

func (p *Postgres) upsertTx(ctx context.Context, chunks []*Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !p.metaSet {
		_, err := tx.Exec(ctx, `
			INSERT INTO embedding_meta (id, model, dimension) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET model = EXCLUDED.model, dimension = EXCLUDED.dimension`,
			p.meta.Model, p.meta.Dimension)
		if err != nil {
			return fmt.Errorf("write embedding meta: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if c.Metadata == nil {
			metadata = []byte(`{}`)
		}
		batch.Queue(pgUpsertChunkSQL,
			c.ChunkID, c.SourcePath, c.ChunkIndex, c.Text, c.Summary,
			pgvector.NewVector(c.Embedding),
			c.SourceType, c.Language, c.SymbolType, c.SymbolName,
			c.StartLine, c.EndLine, metadata)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	p.metaSet = true
	return nil
}

// ChunksByID fetches chunks preserving the given order.
func (p *Postgres) ChunksByID(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "select chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, _, err := scanPGChunk(rows, false)
		if err != nil {
			return nil, err
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "iterate chunks", err)
	}

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// VectorSearch returns the topK nearest chunks using the configured distance
// operator, with distances mapped to normalized scores.
func (p *Postgres) VectorSearch(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	if len(embedding) != p.meta.Dimension {
		return nil, errors.Newf(errors.KindStorageDimensionMismatch,
			"query has %d dimensions, index expects %d", len(embedding), p.meta.Dimension)
	}

	op := vectorOperator(p.cfg.Metric)
	where, args := pgFilterWhere(filters, 3)
	query := fmt.Sprintf(`
		SELECT `+pgChunkColumns+`, (embedding %s $1) AS distance
		FROM chunks
		WHERE embedding IS NOT NULL%s
		ORDER BY embedding %s $1
		LIMIT $2`, op, where, op)

	allArgs := append([]any{pgvector.NewVector(embedding), topK}, args...)
	return errors.RetryWithResult(ctx, p.retry, func() ([]Hit, error) {
		hits, err := p.queryHits(ctx, query, allArgs, func(score float64) float64 {
			return distanceToScore(p.cfg.Metric, score)
		})
		return hits, classifyPGTransient(err)
	})
}

// KeywordSearch returns the topK full-text matches with ts_rank_cd scores
// normalized by the best score of this query.
func (p *Postgres) KeywordSearch(ctx context.Context, text string, topK int, filters Filters) ([]Hit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	if strings.TrimSpace(text) == "" {
		return []Hit{}, nil
	}

	where, args := pgFilterWhere(filters, 3)
	query := `
		SELECT ` + pgChunkColumns + `, ts_rank_cd(ts_text, q) AS rank
		FROM chunks, websearch_to_tsquery('english', $1) q
		WHERE ts_text @@ q` + where + `
		ORDER BY rank DESC
		LIMIT $2`

	allArgs := append([]any{text, topK}, args...)
	hits, err := errors.RetryWithResult(ctx, p.retry, func() ([]Hit, error) {
		hits, err := p.queryHits(ctx, query, allArgs, nil)
		return hits, classifyPGTransient(err)
	})
	if err != nil {
		return nil, err
	}
	hits = normalizeByMax(hits)
	SortHits(hits)
	return hits, nil
}

// queryHits runs a search query whose last column is the raw score and maps
// rows into Hits, optionally transforming the score.
func (p *Postgres) queryHits(ctx context.Context, query string, args []any, scoreFn func(float64) float64) ([]Hit, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		c, score, err := scanPGChunk(rows, true)
		if err != nil {
			return nil, err
		}
		if scoreFn != nil {
			score = scoreFn(score)
		}
		hits = append(hits, Hit{Chunk: c, Score: score})
	}
	return hits, rows.Err()
}

// HybridSearch runs both signals in parallel with a 2x over-fetch and fuses
// them with the weighted formula alpha*vector + (1-alpha)*keyword.
func (p *Postgres) HybridSearch(ctx context.Context, embedding []float32, text string, topK int, alpha float64, filters Filters) ([]Hit, error) {
	fetch := topK * 2

	var vecHits, kwHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = p.VectorSearch(gctx, embedding, fetch, filters)
		return err
	})
	g.Go(func() error {
		var err error
		kwHits, err = p.KeywordSearch(gctx, text, fetch, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeHybrid(vecHits, kwHits, alpha, topK), nil
}

// DeleteBySource removes every chunk for one source path.
func (p *Postgres) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE source_path = $1`, sourcePath)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete chunks", err)
	}
	return int(tag.RowsAffected()), nil
}

// Reset drops all indexed data including the embedding metadata record.
func (p *Postgres) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "begin reset", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE chunks`); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "truncate chunks", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM embedding_meta`); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "clear embedding meta", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "commit reset", err)
	}

	p.metaSet = false
	return nil
}

// Count returns the number of chunks matching the filters.
func (p *Postgres) Count(ctx context.Context, filters Filters) (int, error) {
	where, args := pgFilterWhere(filters, 1)
	query := `SELECT COUNT(*) FROM chunks`
	if where != "" {
		query += ` WHERE` + strings.TrimPrefix(where, " AND")
	}

	var n int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count chunks", err)
	}
	return n, nil
}

// Flush is a no-op; Postgres writes are durable at commit.
func (p *Postgres) Flush(ctx context.Context) error { return nil }

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.pool.Close()
	return nil
}

// scanPGChunk reads one chunk row; when withScore is true the row's last
// column is the raw score.
func scanPGChunk(rows pgx.Rows, withScore bool) (*Chunk, float64, error) {
	var c Chunk
	var metadata []byte
	var score float64

	dest := []any{
		&c.ChunkID, &c.SourcePath, &c.ChunkIndex, &c.Text, &c.Summary,
		&c.SourceType, &c.Language, &c.SymbolType, &c.SymbolName,
		&c.StartLine, &c.EndLine, &metadata,
	}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, errors.Wrap(errors.KindStorageUnavailable, "scan chunk", err)
	}
	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, 0, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}
	return &c, score, nil
}

// pgFilterWhere renders chunk-level filters as AND clauses with placeholders
// starting at argIndex.
func pgFilterWhere(f Filters, argIndex int) (string, []any) {
	var sb strings.Builder
	var args []any

	add := func(col string, values []string) {
		if len(values) == 0 {
			return
		}
		fmt.Fprintf(&sb, " AND lower(%s) = ANY($%d)", col, argIndex)
		args = append(args, values)
		argIndex++
	}
	add("source_type", f.SourceTypes)
	add("language", f.Languages)
	add("symbol_type", f.SymbolTypes)

	return sb.String(), args
}

// vectorOperator maps the configured metric to its pgvector operator.
func vectorOperator(metric string) string {
	switch metric {
	case config.MetricL2:
		return "<->"
	case config.MetricInnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// vectorOpclass maps the configured metric to its pgvector index opclass.
func vectorOpclass(metric string) string {
	switch metric {
	case config.MetricL2:
		return "vector_l2_ops"
	case config.MetricInnerProduct:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// classifyPGTransient marks connection-level and serialization failures as
// StorageUnavailable so the shared retry policy picks them up.
func classifyPGTransient(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 (connection), 57P03 (starting up), 40001/40P01
		// (serialization, deadlock).
		if strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P03" || pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return errors.Wrap(errors.KindStorageUnavailable, "postgres unavailable", err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrap(errors.KindStorageUnavailable, "postgres connection failed", err)
	}
	return err
}
