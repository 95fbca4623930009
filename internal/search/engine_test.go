package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/embed"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/graph"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/internal/telemetry"
)

// fakeBackend serves canned hits per search method.
type fakeBackend struct {
	store.Backend

	vectorHits  []store.Hit
	keywordHits []store.Hit
	hybridHits  []store.Hit
	chunks      map[string]*store.Chunk

	lastAlpha float64
	lastTopK  int
}

func (f *fakeBackend) VectorSearch(ctx context.Context, embedding []float32, topK int, filters store.Filters) ([]store.Hit, error) {
	f.lastTopK = topK
	return capHits(f.vectorHits, topK), nil
}

func (f *fakeBackend) KeywordSearch(ctx context.Context, text string, topK int, filters store.Filters) ([]store.Hit, error) {
	f.lastTopK = topK
	return capHits(f.keywordHits, topK), nil
}

func (f *fakeBackend) HybridSearch(ctx context.Context, embedding []float32, text string, topK int, alpha float64, filters store.Filters) ([]store.Hit, error) {
	f.lastAlpha = alpha
	f.lastTopK = topK
	return capHits(f.hybridHits, topK), nil
}

func (f *fakeBackend) ChunksByID(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func capHits(hits []store.Hit, topK int) []store.Hit {
	if len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

// memTriples is an in-memory graph.Store for traversal tests.
type memTriples struct {
	graph.Store
	triples []graph.Triple
}

func (m *memTriples) SearchNodes(ctx context.Context, terms []string, limit int) ([]graph.Triple, error) {
	var out []graph.Triple
	for _, t := range m.triples {
		for _, term := range terms {
			if strings.Contains(strings.ToLower(t.Subject), term) ||
				strings.Contains(strings.ToLower(t.Object), term) {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (m *memTriples) TriplesByChunk(ctx context.Context, chunkIDs []string) ([]graph.Triple, error) {
	ids := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		ids[id] = struct{}{}
	}
	var out []graph.Triple
	for _, t := range m.triples {
		if _, ok := ids[t.ChunkID]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTriples) Neighbors(ctx context.Context, nodes []string, limit int) ([]graph.Triple, error) {
	want := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		want[strings.ToLower(n)] = struct{}{}
	}
	var out []graph.Triple
	for _, t := range m.triples {
		if _, ok := want[strings.ToLower(t.Subject)]; ok {
			out = append(out, t)
			continue
		}
		if _, ok := want[strings.ToLower(t.Object)]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func chunk(id string) *store.Chunk {
	return &store.Chunk{ChunkID: id, Text: "text for " + id}
}

func hit(id string, score float64) store.Hit {
	return store.Hit{Chunk: chunk(id), Score: score}
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Backend == nil {
		deps.Backend = &fakeBackend{}
	}
	if deps.Embedder == nil {
		deps.Embedder = embed.NewStatic()
	}
	e, err := New(deps)
	require.NoError(t, err)
	return e
}

func baseRequest(mode Mode) Request {
	return Request{
		Text:      "how does indexing work",
		Mode:      mode,
		TopK:      DefaultTopK,
		Threshold: DefaultThreshold,
		Alpha:     DefaultAlpha,
	}
}

func TestSearch_Validation(t *testing.T) {
	e := newTestEngine(t, Deps{})

	tests := []struct {
		name string
		req  Request
		kind errors.Kind
	}{
		{"empty text", Request{Mode: ModeVector, TopK: 5}, errors.KindInvalidQuery},
		{"whitespace text", Request{Text: "   ", Mode: ModeVector, TopK: 5}, errors.KindInvalidQuery},
		{"zero top_k", Request{Text: "q", Mode: ModeVector}, errors.KindInvalidQuery},
		{"negative top_k", Request{Text: "q", Mode: ModeVector, TopK: -1}, errors.KindInvalidQuery},
		{"unknown mode", Request{Text: "q", Mode: "fuzzy", TopK: 5}, errors.KindInvalidQuery},
		{"alpha out of range", Request{Text: "q", Mode: ModeHybrid, TopK: 5, Alpha: 1.5}, errors.KindInvalidQuery},
		{"graph disabled", Request{Text: "q", Mode: ModeGraph, TopK: 5}, errors.KindGraphDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestSearch_DefaultModeIsHybrid(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{hit("a", 0.9)}}
	e := newTestEngine(t, Deps{Backend: backend})

	req := baseRequest("")
	req.Mode = ""
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, resp.Mode)
}

func TestSearch_VectorThresholdAndOrder(t *testing.T) {
	backend := &fakeBackend{vectorHits: []store.Hit{
		hit("low", 0.4),
		hit("b", 0.8),
		hit("a", 0.8),
		hit("top", 0.95),
	}}
	e := newTestEngine(t, Deps{Backend: backend})

	resp, err := e.Search(context.Background(), baseRequest(ModeVector))
	require.NoError(t, err)

	require.Len(t, resp.Results, 3, "sub-threshold hits are dropped")
	assert.Equal(t, "top", resp.Results[0].Chunk.ChunkID)
	// Equal scores tie-break on chunk id ascending.
	assert.Equal(t, "a", resp.Results[1].Chunk.ChunkID)
	assert.Equal(t, "b", resp.Results[2].Chunk.ChunkID)

	assert.Equal(t, 0.95, resp.Results[0].VectorScore)
	assert.Zero(t, resp.Results[0].KeywordScore)
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	var hits []store.Hit
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		hits = append(hits, hit(id, 0.9))
	}
	backend := &fakeBackend{keywordHits: hits}
	e := newTestEngine(t, Deps{Backend: backend})

	req := baseRequest(ModeKeyword)
	req.TopK = 3
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearch_HybridPassesAlphaAndKeepsSignalScores(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{
		{Chunk: chunk("a"), Score: 0.85, VectorScore: 0.9, KeywordScore: 0.8},
	}}
	e := newTestEngine(t, Deps{Backend: backend})

	req := baseRequest(ModeHybrid)
	req.Alpha = 0.7
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 0.7, backend.lastAlpha)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0.9, resp.Results[0].VectorScore)
	assert.Equal(t, 0.8, resp.Results[0].KeywordScore)
}

func graphFixture() (*fakeBackend, *graph.Searcher) {
	backend := &fakeBackend{
		vectorHits: []store.Hit{hit("chunk-indexer", 0.9)},
		chunks: map[string]*store.Chunk{
			"chunk-indexer": chunk("chunk-indexer"),
			"chunk-scanner": chunk("chunk-scanner"),
		},
	}
	triples := &memTriples{triples: []graph.Triple{
		{Subject: "Indexer", Predicate: "calls", Object: "Scanner",
			SubjectType: "Class", ObjectType: "Class",
			ChunkID: "chunk-indexer", SourcePath: "indexer.go"},
		{Subject: "Scanner", Predicate: "defined_in", Object: "scanner.go",
			SubjectType: "Class", ObjectType: "Module",
			ChunkID: "chunk-scanner", SourcePath: "scanner.go"},
	}}
	return backend, graph.NewSearcher(triples)
}

func TestSearch_GraphTraversesAndHydrates(t *testing.T) {
	backend, searcher := graphFixture()
	e := newTestEngine(t, Deps{Backend: backend, Graph: searcher})

	req := baseRequest(ModeGraph)
	req.Text = "indexer"
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.Chunk.ChunkID)
		assert.NotEmpty(t, r.Node, "graph results carry the crediting node")
	}
	assert.Contains(t, ids, "chunk-indexer")
	assert.Contains(t, ids, "chunk-scanner", "one-hop neighbor surfaces")
}

func TestSearch_GraphDropsDeletedChunks(t *testing.T) {
	backend, searcher := graphFixture()
	delete(backend.chunks, "chunk-scanner")
	e := newTestEngine(t, Deps{Backend: backend, Graph: searcher})

	req := baseRequest(ModeGraph)
	req.Text = "indexer"
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	for _, r := range resp.Results {
		assert.NotEqual(t, "chunk-scanner", r.Chunk.ChunkID)
	}
}

func TestSearch_MultiFusesHybridAndGraph(t *testing.T) {
	backend, searcher := graphFixture()
	backend.hybridHits = []store.Hit{
		hit("chunk-indexer", 0.9),
		hit("chunk-hybrid-only", 0.85),
	}
	backend.chunks["chunk-hybrid-only"] = chunk("chunk-hybrid-only")
	e := newTestEngine(t, Deps{Backend: backend, Graph: searcher})

	req := baseRequest(ModeMulti)
	req.Text = "indexer"
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	// Present in both signals, so it must outrank single-signal chunks.
	assert.Equal(t, "chunk-indexer", resp.Results[0].Chunk.ChunkID)
}

func TestSearch_MultiWithoutGraphDegradesToHybrid(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{hit("a", 0.9)}}
	e := newTestEngine(t, Deps{Backend: backend})

	resp, err := e.Search(context.Background(), baseRequest(ModeMulti))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].Chunk.ChunkID)
}

func TestSearch_RecordsMetrics(t *testing.T) {
	metrics := telemetry.NewQueryMetrics()
	backend := &fakeBackend{vectorHits: []store.Hit{hit("a", 0.9)}}
	e := newTestEngine(t, Deps{Backend: backend, Metrics: metrics})

	_, err := e.Search(context.Background(), baseRequest(ModeVector))
	require.NoError(t, err)

	s := metrics.Summary()
	assert.Equal(t, int64(1), s.TotalQueries)
	require.Len(t, s.Modes, 1)
	assert.Equal(t, "vector", s.Modes[0].Mode)
}

func TestFuseRRF_SharedChunkWins(t *testing.T) {
	a := []Result{
		{Chunk: chunk("both"), Score: 0.9, VectorScore: 0.9},
		{Chunk: chunk("only-a"), Score: 0.8},
	}
	b := []Result{
		{Chunk: chunk("only-b"), Score: 1.0, Node: "N"},
		{Chunk: chunk("both"), Score: 0.7},
	}

	fused := fuseRRF(a, b)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].Chunk.ChunkID)
	assert.Equal(t, 0.9, fused[0].VectorScore, "per-signal scores survive fusion")
}

func TestQueryTerms(t *testing.T) {
	terms := queryTerms("How does the Indexer call scanner.Scan?")
	assert.Equal(t, []string{"how", "does", "the", "indexer", "call", "scanner", "scan"}, terms)

	assert.Empty(t, queryTerms("? !"))
}
