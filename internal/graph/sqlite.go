package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

const tripleSchema = `
CREATE TABLE IF NOT EXISTS triples (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	subject      TEXT NOT NULL,
	predicate    TEXT NOT NULL,
	object       TEXT NOT NULL,
	subject_type TEXT NOT NULL DEFAULT '',
	object_type  TEXT NOT NULL DEFAULT '',
	chunk_id     TEXT NOT NULL DEFAULT '',
	source_path  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (subject, predicate, object)
);

CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples(lower(subject));
CREATE INDEX IF NOT EXISTS idx_triples_object  ON triples(lower(object));
CREATE INDEX IF NOT EXISTS idx_triples_source  ON triples(source_path);
`

const insertTripleSQL = `
INSERT INTO triples (subject, predicate, object, subject_type, object_type, chunk_id, source_path)
VALUES (:subject, :predicate, :object, :subject_type, :object_type, :chunk_id, :source_path)
ON CONFLICT (subject, predicate, object) DO UPDATE SET
	subject_type = excluded.subject_type,
	object_type  = excluded.object_type,
	chunk_id     = excluded.chunk_id,
	source_path  = excluded.source_path`

const tripleColumns = `id, subject, predicate, object, subject_type, object_type, chunk_id, source_path`

// SQLite stores triples in a standalone database beside the embedded
// backend's files.
type SQLite struct {
	db *sqlx.DB
}

var _ Store = (*SQLite)(nil)

type tripleRow struct {
	ID          int64  `db:"id"`
	Subject     string `db:"subject"`
	Predicate   string `db:"predicate"`
	Object      string `db:"object"`
	SubjectType string `db:"subject_type"`
	ObjectType  string `db:"object_type"`
	ChunkID     string `db:"chunk_id"`
	SourcePath  string `db:"source_path"`
}

// NewSQLite opens (creating if needed) the triple database at path.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "create graph directory", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "open graph database", err)
	}
	// One connection keeps writer and readers off each other's locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(tripleSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.KindStorageUnavailable, "create graph schema", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Insert(ctx context.Context, triples []Triple) error {
	if len(triples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	for i := range triples {
		row := toTripleRow(&triples[i])
		if _, err := tx.NamedExecContext(ctx, insertTripleSQL, row); err != nil {
			return errors.Wrapf(errors.KindStorageUnavailable, err, "insert triple %s", triples[i].Subject)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "commit triples", err)
	}
	return nil
}

func (s *SQLite) Neighbors(ctx context.Context, nodes []string, limit int) ([]Triple, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(nodes))
	for i, n := range nodes {
		lowered[i] = strings.ToLower(n)
	}

	query, args, err := sqlx.In(`SELECT `+tripleColumns+` FROM triples
		WHERE lower(subject) IN (?) OR lower(object) IN (?)
		ORDER BY id LIMIT ?`, lowered, lowered, limit)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "build neighbor query", err)
	}
	return s.selectTriples(ctx, s.db.Rebind(query), args...)
}

func (s *SQLite) SearchNodes(ctx context.Context, terms []string, limit int) ([]Triple, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	var b strings.Builder
	args := make([]any, 0, len(terms)*2+1)
	b.WriteString(`SELECT ` + tripleColumns + ` FROM triples WHERE `)
	for i, term := range terms {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString(`(lower(subject) LIKE ? OR lower(object) LIKE ?)`)
		pattern := "%" + strings.ToLower(term) + "%"
		args = append(args, pattern, pattern)
	}
	// Exact identifier matches rank ahead of substring matches.
	b.WriteString(` ORDER BY CASE WHEN `)
	exact, exactArgs, err := sqlx.In(`lower(subject) IN (?) OR lower(object) IN (?)`, lowerAll(terms), lowerAll(terms))
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "build seed query", err)
	}
	b.WriteString(exact)
	b.WriteString(` THEN 0 ELSE 1 END, id LIMIT ?`)
	args = append(args, exactArgs...)
	args = append(args, limit)

	return s.selectTriples(ctx, s.db.Rebind(b.String()), args...)
}

func (s *SQLite) TriplesByChunk(ctx context.Context, chunkIDs []string) ([]Triple, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+tripleColumns+` FROM triples WHERE chunk_id IN (?) ORDER BY id`, chunkIDs)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "build chunk query", err)
	}
	return s.selectTriples(ctx, s.db.Rebind(query), args...)
}

func (s *SQLite) Query(ctx context.Context, q TripleQuery) ([]Triple, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	fetch := limit
	if len(q.EntityTypes) > 0 || len(q.RelationshipTypes) > 0 {
		fetch = limit * 3
	}

	var (
		triples []Triple
		err     error
	)
	if terms := store.Tokenize(q.Text); len(terms) > 0 {
		triples, err = s.SearchNodes(ctx, terms, fetch)
	} else {
		triples, err = s.selectTriples(ctx,
			`SELECT `+tripleColumns+` FROM triples ORDER BY id LIMIT ?`, fetch)
	}
	if err != nil {
		return nil, err
	}

	return filterTriples(triples, q.EntityTypes, q.RelationshipTypes, limit), nil
}

func (s *SQLite) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triples WHERE source_path = ?`, sourcePath)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete triples", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM (SELECT subject AS node FROM triples UNION SELECT object FROM triples)`)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count nodes", err)
	}
	return n, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM triples`); err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count triples", err)
	}
	return n, nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM triples`); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "reset triples", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) selectTriples(ctx context.Context, query string, args ...any) ([]Triple, error) {
	var rows []tripleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "select triples", err)
	}
	out := make([]Triple, len(rows))
	for i := range rows {
		out[i] = fromTripleRow(&rows[i])
	}
	return out, nil
}

func toTripleRow(t *Triple) *tripleRow {
	return &tripleRow{
		Subject:     t.Subject,
		Predicate:   t.Predicate,
		Object:      t.Object,
		SubjectType: t.SubjectType,
		ObjectType:  t.ObjectType,
		ChunkID:     t.ChunkID,
		SourcePath:  t.SourcePath,
	}
}

func fromTripleRow(r *tripleRow) Triple {
	return Triple{
		ID:          r.ID,
		Subject:     r.Subject,
		Predicate:   r.Predicate,
		Object:      r.Object,
		SubjectType: r.SubjectType,
		ObjectType:  r.ObjectType,
		ChunkID:     r.ChunkID,
		SourcePath:  r.SourcePath,
	}
}

// filterTriples applies type filters after over-fetch and truncates to limit.
func filterTriples(triples []Triple, entityTypes, relationshipTypes []string, limit int) []Triple {
	out := make([]Triple, 0, limit)
	for i := range triples {
		if !matchesTypes(&triples[i], entityTypes, relationshipTypes) {
			continue
		}
		out = append(out, triples[i])
		if len(out) == limit {
			break
		}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
