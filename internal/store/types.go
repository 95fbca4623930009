// Package store persists indexed chunks and answers vector, keyword, and
// hybrid retrieval over them. Two backends implement the same contract: an
// embedded one (SQLite metadata, an HNSW vector index, and a Bleve keyword
// index under the project state directory) and a Postgres one built on
// pgvector.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
)

// Source types stored on every chunk.
const (
	SourceTypeDocument = "document"
	SourceTypeCode     = "code"
)

// Metadata keys the code splitter records and the graph extractor reads.
// Multi-valued keys hold comma-joined identifier lists.
const (
	MetaImports    = "imports"
	MetaCalls      = "calls"
	MetaExtends    = "extends"
	MetaImplements = "implements"
	MetaParent     = "parent"
	MetaHeading    = "heading"
)

// Chunk is the retrievable unit shared by every backend.
type Chunk struct {
	ChunkID    string            `json:"chunk_id"`
	SourcePath string            `json:"source_path"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Summary    string            `json:"summary,omitempty"`
	Embedding  []float32         `json:"-"`
	SourceType string            `json:"source_type"`
	Language   string            `json:"language,omitempty"`
	SymbolType string            `json:"symbol_type,omitempty"`
	SymbolName string            `json:"symbol_name,omitempty"`
	StartLine  int               `json:"start_line,omitempty"`
	EndLine    int               `json:"end_line,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewChunkID derives the stable chunk identifier from the upsert key
// (source_path, chunk_index). Re-indexing the same span of the same file
// always yields the same id.
func NewChunkID(sourcePath string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sourcePath, chunkIndex)))
	return hex.EncodeToString(sum[:16])
}

// EmbeddingText is the text that gets embedded and keyword-indexed for a
// chunk. When a summary exists it is prepended so retrieval sees both.
func (c *Chunk) EmbeddingText() string {
	if c.Summary != "" {
		return c.Summary + "\n\n" + c.Text
	}
	return c.Text
}

// EmbeddingMeta is the singleton provenance record for stored vectors.
// It is written on first ingestion and validated on every startup.
type EmbeddingMeta struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Hit is a scored retrieval result. Backend scores are normalized to [0,1]
// so the engine can threshold and fuse them uniformly.
type Hit struct {
	*Chunk `json:"chunk"`
	Score  float64 `json:"score"`

	// VectorScore and KeywordScore carry the per-signal components of a
	// hybrid result. Zero when the signal did not contribute.
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
}

// Backend is the storage contract shared by the embedded and Postgres
// implementations.
type Backend interface {
	// Initialize prepares schema and validates persisted embedding metadata
	// against the configured provider. A mismatch returns a
	// StorageDimensionMismatch error and leaves the stored data untouched.
	Initialize(ctx context.Context, meta EmbeddingMeta) error

	// Meta reports the persisted embedding metadata, if any has been written.
	Meta(ctx context.Context) (EmbeddingMeta, bool, error)

	// Upsert inserts or replaces chunks keyed by (source_path, chunk_index).
	Upsert(ctx context.Context, chunks []*Chunk) error

	// ChunksByID fetches chunks preserving the given id order. Unknown ids
	// are skipped, not errors.
	ChunksByID(ctx context.Context, ids []string) ([]*Chunk, error)

	VectorSearch(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error)
	KeywordSearch(ctx context.Context, text string, topK int, filters Filters) ([]Hit, error)
	HybridSearch(ctx context.Context, embedding []float32, text string, topK int, alpha float64, filters Filters) ([]Hit, error)

	// DeleteBySource removes every chunk for one source path and reports
	// how many were removed.
	DeleteBySource(ctx context.Context, sourcePath string) (int, error)

	// Reset drops all indexed data including the embedding metadata record.
	Reset(ctx context.Context) error

	Count(ctx context.Context, filters Filters) (int, error)

	// Flush persists any buffered state. Called at job boundaries; a no-op
	// for backends that are durable per write.
	Flush(ctx context.Context) error

	Close() error
}

// distanceToScore converts a raw distance into a similarity score in [0,1].
// Cosine distance ranges 0-2, L2 is unbounded, and inner-product distances
// arrive as negated dot products, so each metric has its own mapping.
func distanceToScore(metric string, distance float64) float64 {
	switch metric {
	case config.MetricL2:
		return 1.0 / (1.0 + distance)
	case config.MetricInnerProduct:
		return 1.0 / (1.0 + math.Exp(distance))
	default:
		return 1.0 - distance/2.0
	}
}

// normalizeByMax rescales scores into [0,1] against the best score of the
// current result set. BM25 scores are unbounded, so normalization is per
// query, never global.
func normalizeByMax(hits []Hit) []Hit {
	var best float64
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best <= 0 {
		return hits
	}
	for i := range hits {
		hits[i].Score /= best
	}
	return hits
}

// mergeHybrid fuses vector and keyword hits with
// final = alpha*vector + (1-alpha)*keyword, dedupes by chunk id, and keeps
// the top k. Both inputs must already be normalized to [0,1].
func mergeHybrid(vec, kw []Hit, alpha float64, topK int) []Hit {
	merged := make(map[string]*Hit, len(vec)+len(kw))
	for i := range vec {
		h := vec[i]
		merged[h.Chunk.ChunkID] = &Hit{Chunk: h.Chunk, VectorScore: h.Score}
	}
	for i := range kw {
		h := kw[i]
		m, ok := merged[h.Chunk.ChunkID]
		if !ok {
			m = &Hit{Chunk: h.Chunk}
			merged[h.Chunk.ChunkID] = m
		}
		m.KeywordScore = h.Score
	}

	out := make([]Hit, 0, len(merged))
	for _, m := range merged {
		m.Score = alpha*m.VectorScore + (1-alpha)*m.KeywordScore
		out = append(out, *m)
	}
	SortHits(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// SortHits orders hits by score descending with chunk id ascending as the
// tie-break, so equal-score runs are deterministic.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ChunkID < hits[j].Chunk.ChunkID
	})
}
