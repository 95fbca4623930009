package graph

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

const pgTripleColumns = `id, subject, predicate, object, subject_type, object_type, chunk_id, source_path`

const pgInsertTripleSQL = `
INSERT INTO graph_triples (subject, predicate, object, subject_type, object_type, chunk_id, source_path)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (subject, predicate, object) DO UPDATE SET
	subject_type = EXCLUDED.subject_type,
	object_type  = EXCLUDED.object_type,
	chunk_id     = EXCLUDED.chunk_id,
	source_path  = EXCLUDED.source_path`

// Postgres stores triples in the graph_triples table created by the backend
// migrations, sharing the backend's connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool. The pool stays owned by the storage
// backend; Close here is a no-op.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Insert(ctx context.Context, triples []Triple) error {
	if len(triples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range triples {
		t := &triples[i]
		batch.Queue(pgInsertTripleSQL,
			t.Subject, t.Predicate, t.Object, t.SubjectType, t.ObjectType, t.ChunkID, t.SourcePath)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range triples {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(errors.KindStorageUnavailable, "insert triples", err)
		}
	}
	return nil
}

func (s *Postgres) Neighbors(ctx context.Context, nodes []string, limit int) ([]Triple, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	return s.selectTriples(ctx, `SELECT `+pgTripleColumns+` FROM graph_triples
		WHERE lower(subject) = ANY($1) OR lower(object) = ANY($1)
		ORDER BY id LIMIT $2`, lowerAll(nodes), limit)
}

func (s *Postgres) SearchNodes(ctx context.Context, terms []string, limit int) ([]Triple, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	patterns := make([]string, len(terms))
	for i, term := range terms {
		patterns[i] = "%" + strings.ToLower(term) + "%"
	}

	// Exact identifier matches rank ahead of substring matches.
	return s.selectTriples(ctx, `SELECT `+pgTripleColumns+` FROM graph_triples
		WHERE lower(subject) LIKE ANY($1) OR lower(object) LIKE ANY($1)
		ORDER BY CASE WHEN lower(subject) = ANY($2) OR lower(object) = ANY($2) THEN 0 ELSE 1 END, id
		LIMIT $3`, patterns, lowerAll(terms), limit)
}

func (s *Postgres) TriplesByChunk(ctx context.Context, chunkIDs []string) ([]Triple, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	return s.selectTriples(ctx, `SELECT `+pgTripleColumns+` FROM graph_triples
		WHERE chunk_id = ANY($1) ORDER BY id`, chunkIDs)
}

func (s *Postgres) Query(ctx context.Context, q TripleQuery) ([]Triple, error) {
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
			`SELECT `+pgTripleColumns+` FROM graph_triples ORDER BY id LIMIT $1`, fetch)
	}
	if err != nil {
		return nil, err
	}

	return filterTriples(triples, q.EntityTypes, q.RelationshipTypes, limit), nil
}

func (s *Postgres) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graph_triples WHERE source_path = $1`, sourcePath)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete triples", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM (
		SELECT subject AS node FROM graph_triples
		UNION
		SELECT object FROM graph_triples) nodes`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count nodes", err)
	}
	return n, nil
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM graph_triples`).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count triples", err)
	}
	return n, nil
}

func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE graph_triples`); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "reset triples", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the storage backend.
func (s *Postgres) Close() error {
	return nil
}

func (s *Postgres) selectTriples(ctx context.Context, query string, args ...any) ([]Triple, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "query triples", err)
	}
	defer rows.Close()

	var out []Triple
	for rows.Next() {
		var t Triple
		if err := rows.Scan(&t.ID, &t.Subject, &t.Predicate, &t.Object,
			&t.SubjectType, &t.ObjectType, &t.ChunkID, &t.SourcePath); err != nil {
			return nil, errors.Wrap(errors.KindStorageUnavailable, "scan triple", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "read triples", err)
	}
	return out, nil
}
