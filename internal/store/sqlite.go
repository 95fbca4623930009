package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	embedding   BLOB,
	source_type TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	symbol_type TEXT NOT NULL DEFAULT '',
	symbol_name TEXT NOT NULL DEFAULT '',
	start_line  INTEGER NOT NULL DEFAULT 0,
	end_line    INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_path, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_source_path ON chunks(source_path);
CREATE INDEX IF NOT EXISTS idx_chunks_source_type ON chunks(source_type);

CREATE TABLE IF NOT EXISTS embedding_meta (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	model     TEXT NOT NULL,
	dimension INTEGER NOT NULL
);
`

const upsertChunkSQL = `
INSERT INTO chunks (
	chunk_id, source_path, chunk_index, text, summary, embedding,
	source_type, language, symbol_type, symbol_name, start_line, end_line, metadata
) VALUES (
	:chunk_id, :source_path, :chunk_index, :text, :summary, :embedding,
	:source_type, :language, :symbol_type, :symbol_name, :start_line, :end_line, :metadata
)
ON CONFLICT (source_path, chunk_index) DO UPDATE SET
	chunk_id    = excluded.chunk_id,
	text        = excluded.text,
	summary     = excluded.summary,
	embedding   = excluded.embedding,
	source_type = excluded.source_type,
	language    = excluded.language,
	symbol_type = excluded.symbol_type,
	symbol_name = excluded.symbol_name,
	start_line  = excluded.start_line,
	end_line    = excluded.end_line,
	metadata    = excluded.metadata,
	updated_at  = CURRENT_TIMESTAMP`

const chunkColumns = `chunk_id, source_path, chunk_index, text, summary, embedding,
	source_type, language, symbol_type, symbol_name, start_line, end_line, metadata`

// chunkDB is the SQLite side of the embedded backend: chunk rows plus the
// embedding metadata singleton.
type chunkDB struct {
	db *sqlx.DB
}

// chunkRow mirrors the chunks table.
type chunkRow struct {
	ChunkID    string `db:"chunk_id"`
	SourcePath string `db:"source_path"`
	ChunkIndex int    `db:"chunk_index"`
	Text       string `db:"text"`
	Summary    string `db:"summary"`
	Embedding  []byte `db:"embedding"`
	SourceType string `db:"source_type"`
	Language   string `db:"language"`
	SymbolType string `db:"symbol_type"`
	SymbolName string `db:"symbol_name"`
	StartLine  int    `db:"start_line"`
	EndLine    int    `db:"end_line"`
	Metadata   string `db:"metadata"`
}

// openChunkDB opens (creating if needed) the chunk database at path.
func openChunkDB(path string) (*chunkDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chunk database: %w", err)
	}
	// modernc's driver serializes writes per connection; one connection
	// avoids SQLITE_BUSY between the worker and search reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chunk schema: %w", err)
	}
	return &chunkDB{db: db}, nil
}

// upsertChunks writes chunks inside a single transaction, replacing rows
// that share (source_path, chunk_index).
func (d *chunkDB) upsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		row, err := toChunkRow(c)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertChunkSQL, row); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// chunksByID fetches chunks preserving the requested order; unknown ids are
// skipped.
func (d *chunkDB) chunksByID(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+chunkColumns+` FROM chunks WHERE chunk_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build id query: %w", err)
	}
	query = d.db.Rebind(query)

	var rows []chunkRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}

	byID := make(map[string]*Chunk, len(rows))
	for i := range rows {
		c, err := fromChunkRow(&rows[i])
		if err != nil {
			return nil, err
		}
		byID[c.ChunkID] = c
	}

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// chunkIDsBySource lists chunk ids stored for one source path.
func (d *chunkDB) chunkIDsBySource(ctx context.Context, sourcePath string) ([]string, error) {
	var ids []string
	err := d.db.SelectContext(ctx, &ids,
		`SELECT chunk_id FROM chunks WHERE source_path = ? ORDER BY chunk_index`, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("select chunk ids: %w", err)
	}
	return ids, nil
}

// deleteBySource removes all chunks for a source path and returns the
// removed ids so sibling indexes can drop them too.
func (d *chunkDB) deleteBySource(ctx context.Context, sourcePath string) ([]string, error) {
	ids, err := d.chunkIDsBySource(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_path = ?`, sourcePath); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}
	return ids, nil
}

// count returns the number of chunks matching the filters.
func (d *chunkDB) count(ctx context.Context, filters Filters) (int, error) {
	where, args := filterWhere(filters)
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks`+where, args...); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// allEmbeddings streams every stored embedding, used to rebuild the vector
// index when its file is missing.
func (d *chunkDB) allEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := d.db.QueryxContext(ctx,
		`SELECT chunk_id, embedding FROM chunks WHERE embedding IS NOT NULL AND length(embedding) > 0`)
	if err != nil {
		return nil, fmt.Errorf("select embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}

// meta reads the embedding metadata singleton.
func (d *chunkDB) meta(ctx context.Context) (EmbeddingMeta, bool, error) {
	var m EmbeddingMeta
	err := d.db.GetContext(ctx, &m, `SELECT model, dimension FROM embedding_meta WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return EmbeddingMeta{}, false, nil
	}
	if err != nil {
		return EmbeddingMeta{}, false, fmt.Errorf("read embedding meta: %w", err)
	}
	return m, true, nil
}

// setMeta writes the embedding metadata singleton.
func (d *chunkDB) setMeta(ctx context.Context, m EmbeddingMeta) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO embedding_meta (id, model, dimension) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET model = excluded.model, dimension = excluded.dimension`,
		m.Model, m.Dimension)
	if err != nil {
		return fmt.Errorf("write embedding meta: %w", err)
	}
	return nil
}

// reset drops every chunk and the metadata record.
func (d *chunkDB) reset(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM embedding_meta`); err != nil {
		return fmt.Errorf("clear embedding meta: %w", err)
	}
	return nil
}

func (d *chunkDB) close() error {
	return d.db.Close()
}

// filterWhere renders chunk-level filters as a WHERE clause with args.
func filterWhere(f Filters) (string, []any) {
	var conds []string
	var args []any

	add := func(col string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		conds = append(conds, fmt.Sprintf("lower(%s) IN (%s)", col, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}
	add("source_type", f.SourceTypes)
	add("language", f.Languages)
	add("symbol_type", f.SymbolTypes)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// toChunkRow converts a Chunk into its table shape.
func toChunkRow(c *Chunk) (*chunkRow, error) {
	metadata := "{}"
	if len(c.Metadata) > 0 {
		data, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		metadata = string(data)
	}
	return &chunkRow{
		ChunkID:    c.ChunkID,
		SourcePath: c.SourcePath,
		ChunkIndex: c.ChunkIndex,
		Text:       c.Text,
		Summary:    c.Summary,
		Embedding:  encodeVector(c.Embedding),
		SourceType: c.SourceType,
		Language:   c.Language,
		SymbolType: c.SymbolType,
		SymbolName: c.SymbolName,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		Metadata:   metadata,
	}, nil
}

// fromChunkRow converts a table row back into a Chunk.
func fromChunkRow(r *chunkRow) (*Chunk, error) {
	c := &Chunk{
		ChunkID:    r.ChunkID,
		SourcePath: r.SourcePath,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Summary:    r.Summary,
		Embedding:  decodeVector(r.Embedding),
		SourceType: r.SourceType,
		Language:   r.Language,
		SymbolType: r.SymbolType,
		SymbolName: r.SymbolName,
		StartLine:  r.StartLine,
		EndLine:    r.EndLine,
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}
	return c, nil
}

// encodeVector packs float32s as little-endian bytes for BLOB storage.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// classifyTransient marks retryable SQLite failures as StorageUnavailable so
// the shared retry policy picks them up.
func classifyTransient(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_BUSY (5) and SQLITE_LOCKED (6)
		if se.Code() == 5 || se.Code() == 6 {
			return errors.Wrap(errors.KindStorageUnavailable, "database busy", err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return errors.Wrap(errors.KindStorageUnavailable, "database busy", err)
	}
	return err
}
