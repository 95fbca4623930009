// Package search is the retrieval engine: it dispatches queries across the
// vector, keyword, hybrid, graph, and multi modes, applies the optional
// rerank stage, and returns deterministically ordered results.
package search

import (
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
	ModeGraph   Mode = "graph"
	ModeMulti   Mode = "multi"
)

// Modes lists every retrieval mode.
var Modes = []Mode{ModeVector, ModeKeyword, ModeHybrid, ModeGraph, ModeMulti}

func validMode(m Mode) bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// Request defaults. Transports fill these in for absent fields; an explicit
// top_k of zero is a caller error, not a request for the default.
const (
	DefaultTopK           = 5
	DefaultThreshold      = 0.7
	DefaultAlpha          = 0.5
	DefaultTraversalDepth = 2
)

// rrfK is the Reciprocal Rank Fusion constant for multi-mode fusion.
const rrfK = 60

// Request is one retrieval query.
type Request struct {
	Text string `json:"text"`

	// Mode defaults to hybrid when empty.
	Mode Mode `json:"mode,omitempty"`

	TopK int `json:"top_k"`

	// Threshold cuts results below this normalized score. Applies to the
	// vector, keyword, and hybrid modes.
	Threshold float64 `json:"threshold"`

	// Alpha weights the vector signal in hybrid fusion.
	Alpha float64 `json:"alpha"`

	Filters store.Filters `json:"filters,omitempty"`

	// TraversalDepth bounds graph expansion; zero means the default.
	TraversalDepth int `json:"traversal_depth,omitempty"`

	// IncludeScores asks transports to keep per-signal scores in the
	// serialized response. The engine always computes them.
	IncludeScores bool `json:"include_scores,omitempty"`
}

// Result is one ranked chunk. The per-signal scores are retained even after
// reranking so the original retrieval ordering stays observable.
type Result struct {
	Chunk *store.Chunk `json:"chunk"`
	Score float64      `json:"score"`

	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	RerankScore  float64 `json:"rerank_score,omitempty"`

	// Node and Depth describe how graph traversal reached this chunk.
	Node  string `json:"node,omitempty"`
	Depth int    `json:"depth,omitempty"`
}

// Response is a completed query.
type Response struct {
	Results []Result `json:"results"`
	Mode    Mode     `json:"mode"`

	// RerankDegraded reports that the rerank stage failed and the results
	// carry stage-1 ordering.
	RerankDegraded bool `json:"rerank_degraded,omitempty"`

	Duration time.Duration `json:"-"`
}
