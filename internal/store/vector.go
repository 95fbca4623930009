package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
)

const innerProductDistanceName = "neg_inner_product"

func init() {
	// Export encodes the distance function by name, so the custom metric
	// must be registered before any graph is imported.
	hnsw.RegisterDistanceFunc(innerProductDistanceName, negInnerProductDistance)
}

// negInnerProductDistance orders by negated dot product so that larger dot
// products sort as smaller distances.
func negInnerProductDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// vectorIndex is the embedded ANN index built on coder/hnsw. IDs are mapped
// to graph keys; deletes are lazy (mappings dropped, nodes orphaned) because
// removing the last graph node corrupts the structure.
type vectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	metric string

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob sidecar persisted next to the graph file.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
	Metric  string
}

// vectorHit is one nearest-neighbor match with its normalized score.
type vectorHit struct {
	ID    string
	Score float64
}

// newVectorIndex creates an empty index for the given dimensionality.
func newVectorIndex(dims int, metric string) *vectorIndex {
	if metric == "" {
		metric = config.MetricCosine
	}
	return &vectorIndex{
		graph:  newGraph(metric),
		dims:   dims,
		metric: metric,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func newGraph(metric string) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case config.MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	case config.MetricInnerProduct:
		graph.Distance = negInnerProductDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25
	return graph
}

// Add inserts vectors under their chunk ids, replacing existing entries.
func (v *vectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	for _, vec := range vectors {
		if len(vec) != v.dims {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", v.dims, len(vec))
		}
	}

	for i, id := range ids {
		if existingKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, existingKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if v.metric == config.MetricCosine {
			normalizeInPlace(vec)
		}

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest chunks with normalized similarity scores.
func (v *vectorIndex) Search(ctx context.Context, queryVec []float32, k int) ([]vectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(queryVec) != v.dims {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", v.dims, len(queryVec))
	}
	if v.graph.Len() == 0 {
		return []vectorHit{}, nil
	}

	q := make([]float32, len(queryVec))
	copy(q, queryVec)
	if v.metric == config.MetricCosine {
		normalizeInPlace(q)
	}

	// Orphaned nodes from lazy deletes still come back from the graph, so
	// over-ask and drop anything without a live mapping.
	ask := k + (v.graph.Len() - len(v.idMap))
	nodes := v.graph.Search(q, ask)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, live := v.keyMap[node.Key]
		if !live {
			continue
		}
		distance := v.graph.Distance(q, node.Value)
		hits = append(hits, vectorHit{
			ID:    id,
			Score: distanceToScore(v.metric, float64(distance)),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes ids from the index. Nodes stay in the graph but are
// excluded from results.
func (v *vectorIndex) Delete(ctx context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (v *vectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return 0
	}
	return len(v.idMap)
}

// Contains reports whether an id is live in the index.
func (v *vectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return false
	}
	_, ok := v.idMap[id]
	return ok
}

// Reset drops every vector and starts a fresh graph.
func (v *vectorIndex) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.graph = newGraph(v.metric)
	v.idMap = make(map[string]uint64)
	v.keyMap = make(map[uint64]string)
	v.nextKey = 0
}

// Save persists the graph and its id mappings atomically (temp + rename).
func (v *vectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return v.saveMetadata(path + ".meta")
}

func (v *vectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:   v.idMap,
		NextKey: v.nextKey,
		Dims:    v.dims,
		Metric:  v.metric,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and mappings from disk.
func (v *vectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	if err := v.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (v *vectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	v.idMap = meta.IDMap
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	v.nextKey = meta.NextKey
	v.dims = meta.Dims
	v.metric = meta.Metric
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (v *vectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

// readVectorIndexDims reads the dimensionality recorded in an index's
// metadata sidecar. Returns 0 when no sidecar exists yet.
func readVectorIndexDims(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open vector metadata: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("decode vector metadata: %w", err)
	}
	return meta.Dims, nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
