package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// File names inside the project state directory.
const (
	chunkDBFile     = "chunks.db"
	vectorIndexFile = "vectors.hnsw"
	keywordIndexDir = "keyword.bleve"
)

// Embedded is the zero-dependency backend: chunk rows and the embedding
// metadata singleton in SQLite, vectors in an HNSW graph persisted beside
// it, and keyword retrieval through Bleve. Everything lives under the
// project state directory.
type Embedded struct {
	mu  sync.RWMutex
	dir string

	db      *chunkDB
	vectors *vectorIndex
	keyword *keywordIndex

	meta    EmbeddingMeta
	metaSet bool
	dirty   bool
	retry   errors.RetryConfig
	closed  bool
}

var _ Backend = (*Embedded)(nil)

// NewEmbedded opens the embedded backend rooted at stateDir. Initialize must
// run before any other operation.
func NewEmbedded(stateDir string) (*Embedded, error) {
	db, err := openChunkDB(filepath.Join(stateDir, chunkDBFile))
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "open chunk database", err)
	}
	kw, err := newKeywordIndex(filepath.Join(stateDir, keywordIndexDir))
	if err != nil {
		db.close()
		return nil, errors.Wrap(errors.KindStorageUnavailable, "open keyword index", err)
	}
	return &Embedded{
		dir:     stateDir,
		db:      db,
		keyword: kw,
		retry:   errors.DefaultRetryConfig(),
	}, nil
}

// Initialize validates the persisted embedding metadata against the
// configured provider and brings up the vector index, rebuilding it from
// stored embeddings when the graph file is missing or out of sync.
func (e *Embedded) Initialize(ctx context.Context, meta EmbeddingMeta) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	if meta.Dimension <= 0 {
		return errors.Newf(errors.KindInvalidConfig, "embedding dimension must be positive, got %d", meta.Dimension)
	}

	stored, found, err := e.db.meta(ctx)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "read embedding meta", err)
	}
	if found && (stored.Dimension != meta.Dimension || stored.Model != meta.Model) {
		return dimensionMismatch(stored, meta)
	}

	e.meta = meta
	e.metaSet = found
	e.vectors = newVectorIndex(meta.Dimension, config.MetricCosine)

	vectorPath := filepath.Join(e.dir, vectorIndexFile)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		dims, err := readVectorIndexDims(vectorPath)
		if err != nil {
			return errors.Wrap(errors.KindStorageUnavailable, "read vector index metadata", err)
		}
		if dims != 0 && dims != meta.Dimension {
			return dimensionMismatch(EmbeddingMeta{Model: stored.Model, Dimension: dims}, meta)
		}
		if err := e.vectors.Load(vectorPath); err != nil {
			return errors.Wrap(errors.KindStorageUnavailable, "load vector index", err)
		}
	}

	return e.reconcileVectors(ctx)
}

// reconcileVectors rebuilds the in-memory graph from SQLite when the
// persisted graph is missing chunks, which happens after a crash between a
// chunk commit and a vector flush.
func (e *Embedded) reconcileVectors(ctx context.Context) error {
	chunkCount, err := e.db.count(ctx, Filters{})
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "count chunks", err)
	}
	if e.vectors.Count() == chunkCount {
		return nil
	}

	slog.Warn("vector_index_out_of_sync",
		slog.Int("vectors", e.vectors.Count()),
		slog.Int("chunks", chunkCount))

	embeddings, err := e.db.allEmbeddings(ctx)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "load embeddings", err)
	}

	e.vectors = newVectorIndex(e.meta.Dimension, config.MetricCosine)
	ids := make([]string, 0, len(embeddings))
	vecs := make([][]float32, 0, len(embeddings))
	for id, vec := range embeddings {
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if err := e.vectors.Add(ctx, ids, vecs); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "rebuild vector index", err)
	}
	e.dirty = true

	slog.Info("vector_index_rebuilt", slog.Int("vectors", len(ids)))
	return nil
}

// Meta reports the persisted embedding metadata.
func (e *Embedded) Meta(ctx context.Context) (EmbeddingMeta, bool, error) {
	return e.db.meta(ctx)
}

// Upsert writes chunks to all three stores, persisting the embedding
// metadata record on first ingestion.
func (e *Embedded) Upsert(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = NewChunkID(c.SourcePath, c.ChunkIndex)
		}
		if len(c.Embedding) != e.meta.Dimension {
			return errors.Newf(errors.KindStorageDimensionMismatch,
				"chunk %s has %d dimensions, index expects %d", c.ChunkID, len(c.Embedding), e.meta.Dimension)
		}
		ids[i] = c.ChunkID
		vecs[i] = c.Embedding
	}

	if !e.metaSet {
		if err := e.db.setMeta(ctx, e.meta); err != nil {
			return errors.Wrap(errors.KindStorageUnavailable, "write embedding meta", err)
		}
		e.metaSet = true
	}

	err := errors.Retry(ctx, e.retry, func() error {
		return classifyTransient(e.db.upsertChunks(ctx, chunks))
	})
	if err != nil {
		return err
	}
	if err := e.vectors.Add(ctx, ids, vecs); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "add vectors", err)
	}
	if err := e.keyword.Index(ctx, chunks); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "index keywords", err)
	}
	e.dirty = true
	return nil
}

// ChunksByID fetches chunks preserving the given order.
func (e *Embedded) ChunksByID(ctx context.Context, ids []string) ([]*Chunk, error) {
	chunks, err := e.db.chunksByID(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "fetch chunks", err)
	}
	return chunks, nil
}

// VectorSearch returns the topK nearest chunks. Filters are applied by
// over-fetching from the graph and dropping non-matching chunks.
func (e *Embedded) VectorSearch(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}
	if len(embedding) != e.meta.Dimension {
		return nil, errors.Newf(errors.KindStorageDimensionMismatch,
			"query has %d dimensions, index expects %d", len(embedding), e.meta.Dimension)
	}

	fetch := topK
	if !filters.Empty() {
		fetch = topK * 3
	}
	raw, err := e.vectors.Search(ctx, embedding, fetch)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "vector search", err)
	}

	ids := make([]string, len(raw))
	scores := make(map[string]float64, len(raw))
	for i, h := range raw {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}
	chunks, err := e.ChunksByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, topK)
	for _, c := range chunks {
		if !filters.Match(c) {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: scores[c.ChunkID]})
		if len(hits) == topK {
			break
		}
	}
	SortHits(hits)
	return hits, nil
}

// KeywordSearch returns the topK keyword matches with scores normalized by
// the best score of this query.
func (e *Embedded) KeywordSearch(ctx context.Context, text string, topK int, filters Filters) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	raw, err := e.keyword.Search(ctx, text, topK, filters)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "keyword search", err)
	}

	ids := make([]string, len(raw))
	scores := make(map[string]float64, len(raw))
	for i, h := range raw {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}
	chunks, err := e.ChunksByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, Hit{Chunk: c, Score: scores[c.ChunkID]})
	}
	hits = normalizeByMax(hits)
	SortHits(hits)
	return hits, nil
}

// HybridSearch runs both signals in parallel with a 2x over-fetch and fuses
// them with the weighted formula alpha*vector + (1-alpha)*keyword.
func (e *Embedded) HybridSearch(ctx context.Context, embedding []float32, text string, topK int, alpha float64, filters Filters) ([]Hit, error) {
	fetch := topK * 2

	var vecHits, kwHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = e.VectorSearch(gctx, embedding, fetch, filters)
		return err
	})
	g.Go(func() error {
		var err error
		kwHits, err = e.KeywordSearch(gctx, text, fetch, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeHybrid(vecHits, kwHits, alpha, topK), nil
}

// DeleteBySource removes every chunk of one source path from all stores.
func (e *Embedded) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	ids, err := e.db.deleteBySource(ctx, sourcePath)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete chunks", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.vectors.Delete(ctx, ids); err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete vectors", err)
	}
	if err := e.keyword.Delete(ctx, ids); err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "delete keywords", err)
	}
	e.dirty = true
	return len(ids), nil
}

// Reset drops all indexed data, including the embedding metadata record, so
// the next ingestion can use a different provider.
func (e *Embedded) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New(errors.KindStorageUnavailable, "backend is closed")
	}

	if err := e.db.reset(ctx); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "reset chunk database", err)
	}
	e.vectors.Reset()
	if err := e.keyword.Reset(); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "reset keyword index", err)
	}

	vectorPath := filepath.Join(e.dir, vectorIndexFile)
	for _, p := range []string{vectorPath, vectorPath + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(errors.KindStorageUnavailable, "remove vector files", err)
		}
	}

	e.metaSet = false
	e.dirty = false
	return nil
}

// Count returns the number of chunks matching the filters.
func (e *Embedded) Count(ctx context.Context, filters Filters) (int, error) {
	n, err := e.db.count(ctx, filters)
	if err != nil {
		return 0, errors.Wrap(errors.KindStorageUnavailable, "count chunks", err)
	}
	return n, nil
}

// Flush persists the vector graph if it changed since the last flush. The
// index worker calls this at job boundaries; chunk rows and keyword segments
// are durable on their own.
func (e *Embedded) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.dirty {
		return nil
	}
	if err := e.vectors.Save(filepath.Join(e.dir, vectorIndexFile)); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "save vector index", err)
	}
	e.dirty = false
	return nil
}

// Close flushes and closes all three stores.
func (e *Embedded) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.dirty && e.vectors != nil {
		if err := e.vectors.Save(filepath.Join(e.dir, vectorIndexFile)); err != nil {
			slog.Warn("vector_index_save_failed", slog.String("error", err.Error()))
		}
	}
	e.closed = true

	var firstErr error
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.keyword.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.db.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// dimensionMismatch builds the canonical mismatch error with both sides.
func dimensionMismatch(stored, configured EmbeddingMeta) error {
	return errors.Newf(errors.KindStorageDimensionMismatch,
		"index was built with model %s (%d dims) but the configured provider %s produces %d dims",
		stored.Model, stored.Dimension, configured.Model, configured.Dimension).
		WithDetail("stored_model", stored.Model).
		WithDetail("stored_dimension", fmt.Sprintf("%d", stored.Dimension)).
		WithDetail("configured_model", configured.Model).
		WithDetail("configured_dimension", fmt.Sprintf("%d", configured.Dimension)).
		WithHint("reset the index or restore the original embedding provider")
}
