package graph

import (
	"context"
	"sort"
	"strings"
)

const (
	// depthDecay discounts a node's score for each edge between it and the
	// seed that reached it.
	depthDecay = 0.7

	// rrfK is the Reciprocal Rank Fusion constant, shared with multi-mode
	// fusion in the retrieval engine.
	rrfK = 60

	// seedFetchLimit bounds how many triples seed a traversal.
	seedFetchLimit = 128

	// neighborFetchLimit bounds the fan-out of one traversal hop.
	neighborFetchLimit = 256
)

// Seed is a traversal entry point. Score is normalized so the best seed of a
// query is 1.0.
type Seed struct {
	Node  string
	Score float64
}

// Result is a chunk surfaced by traversal, credited to the strongest node
// that chunk defines.
type Result struct {
	ChunkID string
	Node    string
	Depth   int
	Score   float64
}

// Searcher runs the graph retrieval mode: seed nodes from query terms and
// vector hits, walk the triple store outward, and score the chunks that
// defined each surviving node.
type Searcher struct {
	store Store
}

func NewSearcher(store Store) *Searcher {
	return &Searcher{store: store}
}

// Search seeds from keyword terms and ranked vector-hit chunk ids, fuses the
// two seed lists with RRF, then traverses up to depth edges. Results come
// back sorted by score descending, chunk id ascending, unbounded; the caller
// truncates.
func (s *Searcher) Search(ctx context.Context, terms []string, vectorChunkIDs []string, depth int, entityTypes, relationshipTypes []string) ([]Result, error) {
	kwTriples, err := s.store.SearchNodes(ctx, terms, seedFetchLimit)
	if err != nil {
		return nil, err
	}
	vecTriples, err := s.store.TriplesByChunk(ctx, vectorChunkIDs)
	if err != nil {
		return nil, err
	}

	seeds := FuseSeeds(
		seedNodes(kwTriples, entityTypes),
		nodesByChunkRank(vecTriples, vectorChunkIDs, entityTypes),
	)
	if len(seeds) == 0 {
		return nil, nil
	}

	w := newWalk(seeds)
	// Seed chunks surface at depth 0 through the triples that matched.
	w.recordTriples(kwTriples, relationshipTypes, entityTypes)
	w.recordTriples(vecTriples, relationshipTypes, entityTypes)

	for hop := 1; hop <= depth; hop++ {
		frontier := w.frontierNodes()
		if len(frontier) == 0 {
			break
		}
		neighbors, err := s.store.Neighbors(ctx, frontier, neighborFetchLimit)
		if err != nil {
			return nil, err
		}
		w.expand(neighbors, hop, relationshipTypes, entityTypes)
	}

	return w.results(), nil
}

// walk tracks visited nodes, the advancing frontier, and the best score per
// chunk during one traversal.
type walk struct {
	visited map[string]float64 // lower(node) -> score
	depths  map[string]int     // lower(node) -> hops from seed
	next    []string
	chunks  map[string]Result // chunk id -> best credit
}

func newWalk(seeds []Seed) *walk {
	w := &walk{
		visited: make(map[string]float64, len(seeds)),
		depths:  make(map[string]int, len(seeds)),
		chunks:  make(map[string]Result),
	}
	for _, s := range seeds {
		key := strings.ToLower(s.Node)
		if _, ok := w.visited[key]; ok {
			continue
		}
		w.visited[key] = s.Score
		w.depths[key] = 0
		w.next = append(w.next, s.Node)
	}
	return w
}

func (w *walk) frontierNodes() []string {
	frontier := w.next
	w.next = nil
	return frontier
}

// expand processes one hop's neighbor triples: credits chunks to visited
// endpoints and admits unvisited far nodes at a decayed score.
func (w *walk) expand(triples []Triple, hop int, relationshipTypes, entityTypes []string) {
	for i := range triples {
		t := &triples[i]
		if len(relationshipTypes) > 0 && !containsFold(relationshipTypes, t.Predicate) {
			continue
		}
		w.creditChunk(t, entityTypes)

		for _, end := range [2]struct{ node, typ string }{
			{t.Subject, t.SubjectType},
			{t.Object, t.ObjectType},
		} {
			key := strings.ToLower(end.node)
			score, seen := w.visited[key]
			if !seen {
				continue
			}
			far, farType := t.Object, t.ObjectType
			if end.node == t.Object {
				far, farType = t.Subject, t.SubjectType
			}
			farKey := strings.ToLower(far)
			if _, visited := w.visited[farKey]; visited {
				continue
			}
			if len(entityTypes) > 0 && !containsFold(entityTypes, farType) {
				continue
			}
			w.visited[farKey] = score * depthDecay
			w.depths[farKey] = hop
			w.next = append(w.next, far)
		}
	}
}

// recordTriples credits chunks for already-visited endpoints without
// expanding the frontier, used for the seed triples themselves.
func (w *walk) recordTriples(triples []Triple, relationshipTypes, entityTypes []string) {
	for i := range triples {
		t := &triples[i]
		if len(relationshipTypes) > 0 && !containsFold(relationshipTypes, t.Predicate) {
			continue
		}
		w.creditChunk(t, entityTypes)
	}
}

// creditChunk assigns the triple's source chunk the best score among the
// triple's visited endpoints.
func (w *walk) creditChunk(t *Triple, entityTypes []string) {
	if t.ChunkID == "" {
		return
	}
	for _, end := range [2]struct{ node, typ string }{
		{t.Subject, t.SubjectType},
		{t.Object, t.ObjectType},
	} {
		key := strings.ToLower(end.node)
		score, seen := w.visited[key]
		if !seen {
			continue
		}
		if len(entityTypes) > 0 && !containsFold(entityTypes, end.typ) {
			continue
		}
		prev, ok := w.chunks[t.ChunkID]
		if !ok || score > prev.Score {
			w.chunks[t.ChunkID] = Result{
				ChunkID: t.ChunkID,
				Node:    end.node,
				Depth:   w.depths[key],
				Score:   score,
			}
		}
	}
}

func (w *walk) results() []Result {
	out := make([]Result, 0, len(w.chunks))
	for _, r := range w.chunks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// FuseSeeds merges ranked node lists with Reciprocal Rank Fusion (k = 60)
// and rescales so the best seed scores 1.0. Node identity is
// case-insensitive; the first seen casing is kept.
func FuseSeeds(lists ...[]string) []Seed {
	scores := make(map[string]float64)
	display := make(map[string]string)
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list))
		for rank, node := range list {
			key := strings.ToLower(node)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			scores[key] += 1.0 / float64(rrfK+rank+1)
			if _, ok := display[key]; !ok {
				display[key] = node
			}
		}
	}
	if len(scores) == 0 {
		return nil
	}

	var best float64
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	out := make([]Seed, 0, len(scores))
	for key, s := range scores {
		out = append(out, Seed{Node: display[key], Score: s / best})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return strings.ToLower(out[i].Node) < strings.ToLower(out[j].Node)
	})
	return out
}

// seedNodes lists distinct node identifiers of triples in order, dropping
// nodes whose type fails the entity filter.
func seedNodes(triples []Triple, entityTypes []string) []string {
	var nodes []string
	seen := make(map[string]struct{}, len(triples)*2)
	add := func(node, typ string) {
		if node == "" {
			return
		}
		if len(entityTypes) > 0 && !containsFold(entityTypes, typ) {
			return
		}
		key := strings.ToLower(node)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		nodes = append(nodes, node)
	}
	for i := range triples {
		add(triples[i].Subject, triples[i].SubjectType)
		add(triples[i].Object, triples[i].ObjectType)
	}
	return nodes
}

// nodesByChunkRank orders triple nodes by the vector rank of the chunk that
// produced them, so RRF sees the vector signal's ordering.
func nodesByChunkRank(triples []Triple, rankedChunkIDs []string, entityTypes []string) []string {
	byChunk := make(map[string][]Triple, len(rankedChunkIDs))
	for _, t := range triples {
		byChunk[t.ChunkID] = append(byChunk[t.ChunkID], t)
	}

	var ordered []Triple
	for _, id := range rankedChunkIDs {
		ordered = append(ordered, byChunk[id]...)
	}
	return seedNodes(ordered, entityTypes)
}
