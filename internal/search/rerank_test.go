package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// fakeGenerator replays canned completions, or fails.
type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) ModelName() string                  { return "fake" }
func (f *fakeGenerator) Available(ctx context.Context) bool { return true }
func (f *fakeGenerator) Close() error                       { return nil }

func TestReranker_ScoresInOrder(t *testing.T) {
	gen := &fakeGenerator{reply: "[2, 10, 7]"}
	r := NewReranker(gen, 0)

	scores, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 1.0, 0.7}, scores)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Passage 3:")
}

func TestReranker_EmptyDocs(t *testing.T) {
	r := NewReranker(&fakeGenerator{}, 0)
	scores, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []float64
		wantErr bool
	}{
		{"bare array", "[0, 5, 10]", []float64{0, 0.5, 1}, false},
		{"fenced", "```json\n[8, 2]\n```", []float64{0.8, 0.2}, false},
		{"prose wrapped", "Here are the scores: [3, 9]. Hope that helps.", []float64{0.3, 0.9}, false},
		{"clamped", "[-4, 15]", []float64{0, 1}, false},
		{"wrong count", "[1, 2, 3]", nil, true},
		{"no array", "I cannot score these.", nil, true},
		{"not numbers", `["high", "low"]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScores(tt.raw, len(tt.want))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearch_RerankReorders(t *testing.T) {
	var hits []store.Hit
	for i := 0; i < 3; i++ {
		hits = append(hits, hit(fmt.Sprintf("c%d", i), 0.9-float64(i)*0.01))
	}
	// Inverts the stage-1 ordering: c2 best, c0 worst.
	gen := &fakeGenerator{reply: "[1, 5, 9]"}
	backend := &fakeBackend{hybridHits: hits}
	e := newTestEngine(t, Deps{Backend: backend, Reranker: NewReranker(gen, 0)})

	req := baseRequest(ModeHybrid)
	req.TopK = 3
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, resp.RerankDegraded)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "c2", resp.Results[0].Chunk.ChunkID)
	assert.Equal(t, 0.9, resp.Results[0].RerankScore)
	// Stage-1 score survives reranking.
	assert.Equal(t, 0.88, resp.Results[0].Score)
}

func TestSearch_RerankOverFetches(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{hit("a", 0.9)}}
	gen := &fakeGenerator{reply: "[7]"}
	e := newTestEngine(t, Deps{Backend: backend, Reranker: NewReranker(gen, 0)})

	req := baseRequest(ModeHybrid)
	req.TopK = 3
	_, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 30, backend.lastTopK, "stage 1 fetches max(3*top_k, 30)")

	req.TopK = 20
	gen.reply = "[7]"
	_, err = e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 60, backend.lastTopK)
}

func TestSearch_RerankFailureDegrades(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{
		hit("a", 0.9),
		hit("b", 0.8),
	}}
	gen := &fakeGenerator{err: fmt.Errorf("model went away")}
	e := newTestEngine(t, Deps{Backend: backend, Reranker: NewReranker(gen, 0)})

	resp, err := e.Search(context.Background(), baseRequest(ModeHybrid))
	require.NoError(t, err, "a failed rerank must not fail the query")

	assert.True(t, resp.RerankDegraded)
	require.Len(t, resp.Results, 2)
	// Stage-1 ordering is preserved.
	assert.Equal(t, "a", resp.Results[0].Chunk.ChunkID)
	assert.Equal(t, "b", resp.Results[1].Chunk.ChunkID)
}

func TestSearch_RerankGarbageReplyDegrades(t *testing.T) {
	backend := &fakeBackend{hybridHits: []store.Hit{hit("a", 0.9)}}
	gen := &fakeGenerator{reply: "I'd rather not."}
	e := newTestEngine(t, Deps{Backend: backend, Reranker: NewReranker(gen, 0)})

	resp, err := e.Search(context.Background(), baseRequest(ModeHybrid))
	require.NoError(t, err)
	assert.True(t, resp.RerankDegraded)
}
