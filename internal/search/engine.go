package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/SpillwaveSolutions/agent-brain/internal/embed"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/graph"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/internal/telemetry"
)

// rerankWarnInterval rate-limits the degradation warning.
const rerankWarnInterval = time.Minute

// maxQueryTerms bounds how many terms seed a graph traversal.
const maxQueryTerms = 8

// Deps are the engine's collaborators. Graph is nil when the knowledge
// graph is disabled; Reranker is nil when reranking is off; Metrics may be
// nil.
type Deps struct {
	Backend  store.Backend
	Embedder embed.Embedder
	Graph    *graph.Searcher
	Reranker *Reranker
	Metrics  *telemetry.QueryMetrics
}

// Engine dispatches retrieval queries.
type Engine struct {
	backend  store.Backend
	embedder embed.Embedder
	graph    *graph.Searcher
	reranker *Reranker
	metrics  *telemetry.QueryMetrics

	warnMu        sync.Mutex
	lastWarningAt time.Time
}

// New builds the engine. Backend and Embedder are required.
func New(deps Deps) (*Engine, error) {
	if deps.Backend == nil || deps.Embedder == nil {
		return nil, errors.New(errors.KindInternal, "engine requires backend and embedder")
	}
	return &Engine{
		backend:  deps.Backend,
		embedder: deps.Embedder,
		graph:    deps.Graph,
		reranker: deps.Reranker,
		metrics:  deps.Metrics,
	}, nil
}

// Search validates the request, runs the selected mode, applies the rerank
// stage, and returns results ordered by score descending with chunk id as
// the tie-break.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	req.Text = strings.TrimSpace(req.Text)
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Mode == ModeGraph && e.graph == nil {
		return nil, errors.New(errors.KindGraphDisabled, "graph store is disabled").
			WithHint("set graph.enabled: true and re-index to build the knowledge graph")
	}
	if req.TraversalDepth <= 0 {
		req.TraversalDepth = DefaultTraversalDepth
	}

	// With reranking the primary mode over-fetches so stage 2 has
	// candidates to reorder.
	fetchK := req.TopK
	if e.reranker != nil {
		fetchK = 3 * req.TopK
		if fetchK < 30 {
			fetchK = 30
		}
	}

	results, err := e.dispatch(ctx, req, fetchK)
	if err != nil {
		return nil, err
	}
	sortResults(results)

	resp := &Response{Mode: req.Mode}
	results, resp.RerankDegraded = e.rerank(ctx, req.Text, results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	resp.Results = results
	resp.Duration = time.Since(started)

	e.metrics.Record(string(req.Mode), resp.Duration, len(results))
	slog.Debug("query_complete",
		slog.String("mode", string(req.Mode)),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", resp.Duration.Milliseconds()))
	return resp, nil
}

func validate(req Request) error {
	if req.Text == "" {
		return errors.New(errors.KindInvalidQuery, "query text is required")
	}
	if !validMode(req.Mode) {
		return errors.Newf(errors.KindInvalidQuery, "unknown mode %q", req.Mode)
	}
	if req.TopK <= 0 {
		return errors.New(errors.KindInvalidQuery, "top_k must be positive")
	}
	if req.Alpha < 0 || req.Alpha > 1 {
		return errors.Newf(errors.KindInvalidQuery, "alpha must be in [0,1], got %g", req.Alpha)
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return errors.Newf(errors.KindInvalidQuery, "threshold must be in [0,1], got %g", req.Threshold)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	switch req.Mode {
	case ModeVector:
		return e.vectorSearch(ctx, req, fetchK)
	case ModeKeyword:
		return e.keywordSearch(ctx, req, fetchK)
	case ModeHybrid:
		return e.hybridSearch(ctx, req, fetchK)
	case ModeGraph:
		return e.graphSearch(ctx, req, fetchK)
	default:
		return e.multiSearch(ctx, req, fetchK)
	}
}

func (e *Engine) vectorSearch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	embedding, err := e.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	hits, err := e.backend.VectorSearch(ctx, embedding, fetchK, req.Filters)
	if err != nil {
		return nil, err
	}
	return thresholded(hits, req.Threshold, func(h store.Hit) Result {
		return Result{Chunk: h.Chunk, Score: h.Score, VectorScore: h.Score}
	}), nil
}

func (e *Engine) keywordSearch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	hits, err := e.backend.KeywordSearch(ctx, req.Text, fetchK, req.Filters)
	if err != nil {
		return nil, err
	}
	return thresholded(hits, req.Threshold, func(h store.Hit) Result {
		return Result{Chunk: h.Chunk, Score: h.Score, KeywordScore: h.Score}
	}), nil
}

func (e *Engine) hybridSearch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	embedding, err := e.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	hits, err := e.backend.HybridSearch(ctx, embedding, req.Text, fetchK, req.Alpha, req.Filters)
	if err != nil {
		return nil, err
	}
	return thresholded(hits, req.Threshold, func(h store.Hit) Result {
		return Result{
			Chunk:        h.Chunk,
			Score:        h.Score,
			VectorScore:  h.VectorScore,
			KeywordScore: h.KeywordScore,
		}
	}), nil
}

// graphSearch seeds traversal from the query terms and the vector hits,
// walks the triple store, and hydrates the surviving chunks.
func (e *Engine) graphSearch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	embedding, err := e.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	vecHits, err := e.backend.VectorSearch(ctx, embedding, fetchK*2, req.Filters)
	if err != nil {
		return nil, err
	}
	vecIDs := make([]string, 0, len(vecHits))
	for _, h := range vecHits {
		vecIDs = append(vecIDs, h.ChunkID)
	}

	traversed, err := e.graph.Search(ctx, queryTerms(req.Text), vecIDs,
		req.TraversalDepth, req.Filters.EntityTypes, req.Filters.RelationshipTypes)
	if err != nil {
		return nil, err
	}
	if len(traversed) > fetchK {
		traversed = traversed[:fetchK]
	}
	return e.hydrate(ctx, traversed)
}

// multiSearch fuses the hybrid and graph signals with RRF. A disabled graph
// degrades multi to its hybrid half; that is configuration, not a failure.
func (e *Engine) multiSearch(ctx context.Context, req Request, fetchK int) ([]Result, error) {
	var hybrid, graphed []Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hybrid, err = e.hybridSearch(gctx, req, fetchK)
		return err
	})
	if e.graph != nil {
		g.Go(func() error {
			var err error
			graphed, err = e.graphSearch(gctx, req, fetchK)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuseRRF(hybrid, graphed), nil
}

// hydrate resolves traversal results into full chunks, preserving traversal
// order. Chunks deleted since extraction are dropped.
func (e *Engine) hydrate(ctx context.Context, traversed []graph.Result) ([]Result, error) {
	ids := make([]string, 0, len(traversed))
	for _, r := range traversed {
		ids = append(ids, r.ChunkID)
	}
	chunks, err := e.backend.ChunksByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	out := make([]Result, 0, len(traversed))
	for _, r := range traversed {
		c, ok := byID[r.ChunkID]
		if !ok {
			continue
		}
		out = append(out, Result{
			Chunk: c,
			Score: r.Score,
			Node:  r.Node,
			Depth: r.Depth,
		})
	}
	return out, nil
}

// rerank reorders stage-1 results by LLM relevance. Any failure returns the
// stage-1 ordering with the degraded flag set.
func (e *Engine) rerank(ctx context.Context, query string, results []Result) ([]Result, bool) {
	if e.reranker == nil || len(results) == 0 {
		return results, false
	}

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Chunk.Text
	}

	scores, err := e.reranker.Rerank(ctx, query, docs)
	if err != nil {
		e.warnRerankDegraded(err)
		return results, true
	}

	for i := range results {
		results[i].RerankScore = scores[i]
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].RerankScore != results[b].RerankScore {
			return results[a].RerankScore > results[b].RerankScore
		}
		return results[a].Chunk.ChunkID < results[b].Chunk.ChunkID
	})
	return results, false
}

func (e *Engine) warnRerankDegraded(err error) {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	if time.Since(e.lastWarningAt) < rerankWarnInterval {
		return
	}
	e.lastWarningAt = time.Now()
	slog.Warn("rerank_degraded", slog.String("error", err.Error()))
}

// thresholded maps hits to results, dropping scores below the cutoff.
func thresholded(hits []store.Hit, threshold float64, convert func(store.Hit) Result) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, convert(h))
	}
	return out
}

// fuseRRF merges ranked lists with Reciprocal Rank Fusion (k = 60), keeping
// the per-signal scores from whichever list saw the chunk first.
func fuseRRF(lists ...[]Result) []Result {
	fused := make(map[string]Result)
	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			prev, seen := fused[r.Chunk.ChunkID]
			if !seen {
				r.Score = contribution
				fused[r.Chunk.ChunkID] = r
				continue
			}
			prev.Score += contribution
			if prev.VectorScore == 0 {
				prev.VectorScore = r.VectorScore
			}
			if prev.KeywordScore == 0 {
				prev.KeywordScore = r.KeywordScore
			}
			if prev.Node == "" {
				prev.Node, prev.Depth = r.Node, r.Depth
			}
			fused[r.Chunk.ChunkID] = prev
		}
	}

	out := make([]Result, 0, len(fused))
	for _, r := range fused {
		out = append(out, r)
	}
	sortResults(out)
	return out
}

func sortResults(results []Result) {
	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.ChunkID < results[b].Chunk.ChunkID
	})
}

// queryTerms extracts distinct lowercase terms for graph node seeding.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}
