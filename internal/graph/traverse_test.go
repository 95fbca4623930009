package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainStore(t *testing.T) *SQLite {
	t.Helper()
	s := testSQLiteStore(t)
	require.NoError(t, s.Insert(context.Background(), []Triple{
		{Subject: "Alpha", SubjectType: EntityFunction, Predicate: RelCalls, Object: "Beta", ObjectType: EntityFunction, ChunkID: "c1", SourcePath: "a.go"},
		{Subject: "Beta", SubjectType: EntityFunction, Predicate: RelCalls, Object: "Gamma", ObjectType: EntityFunction, ChunkID: "c2", SourcePath: "b.go"},
		{Subject: "Gamma", SubjectType: EntityFunction, Predicate: RelCalls, Object: "Delta", ObjectType: EntityFunction, ChunkID: "c3", SourcePath: "c.go"},
	}))
	return s
}

func TestFuseSeeds(t *testing.T) {
	// Given: two ranked lists that disagree on order
	seeds := FuseSeeds([]string{"a", "b"}, []string{"b", "a"})

	// Then: both nodes tie at 1.0 with alphabetical tie-break
	require.Len(t, seeds, 2)
	assert.Equal(t, "a", seeds[0].Node)
	assert.Equal(t, "b", seeds[1].Node)
	assert.InDelta(t, 1.0, seeds[0].Score, 1e-9)
	assert.InDelta(t, 1.0, seeds[1].Score, 1e-9)
}

func TestFuseSeeds_RankOrderWins(t *testing.T) {
	seeds := FuseSeeds([]string{"a", "b"}, []string{"a", "b"})

	require.Len(t, seeds, 2)
	assert.Equal(t, "a", seeds[0].Node)
	assert.InDelta(t, 1.0, seeds[0].Score, 1e-9)
	assert.Less(t, seeds[1].Score, 1.0)
}

func TestFuseSeeds_CaseInsensitiveIdentity(t *testing.T) {
	seeds := FuseSeeds([]string{"AuthService"}, []string{"authservice"})

	require.Len(t, seeds, 1)
	assert.Equal(t, "AuthService", seeds[0].Node)
}

func TestSearcher_DepthDecayAlongChain(t *testing.T) {
	// Given: a three-edge call chain seeded at its head
	s := chainStore(t)
	searcher := NewSearcher(s)

	// When: traversing two hops from "alpha"
	results, err := searcher.Search(context.Background(), []string{"alpha"}, nil, 2, nil, nil)
	require.NoError(t, err)

	// Then: chunks further down the chain score lower
	require.Len(t, results, 3)
	byChunk := make(map[string]Result, len(results))
	for _, r := range results {
		byChunk[r.ChunkID] = r
	}
	assert.Greater(t, byChunk["c1"].Score, byChunk["c2"].Score)
	assert.Greater(t, byChunk["c2"].Score, byChunk["c3"].Score)
	assert.InDelta(t, 1.0, byChunk["c1"].Score, 1e-9)
}

func TestSearcher_DepthLimitsReach(t *testing.T) {
	s := chainStore(t)
	searcher := NewSearcher(s)

	results, err := searcher.Search(context.Background(), []string{"alpha"}, nil, 1, nil, nil)
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c2")
	assert.NotContains(t, ids, "c3")
}

func TestSearcher_RelationshipFilterBlocksEdges(t *testing.T) {
	// Given: a call edge and an import edge off the same node
	s := testSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []Triple{
		{Subject: "Alpha", SubjectType: EntityFunction, Predicate: RelCalls, Object: "Beta", ObjectType: EntityFunction, ChunkID: "c1", SourcePath: "a.go"},
		{Subject: "Alpha", SubjectType: EntityFunction, Predicate: RelImports, Object: "fmt", ObjectType: EntityModule, ChunkID: "c4", SourcePath: "a.go"},
	}))
	searcher := NewSearcher(s)

	// When: traversal honors only call edges
	results, err := searcher.Search(ctx, []string{"alpha"}, nil, 2, nil, []string{RelCalls})
	require.NoError(t, err)

	// Then: the import edge's chunk never surfaces
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	assert.Contains(t, ids, "c1")
	assert.NotContains(t, ids, "c4")
}

func TestSearcher_EntityFilterBlocksNodes(t *testing.T) {
	s := chainStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []Triple{
		{Subject: "Alpha", SubjectType: EntityFunction, Predicate: RelDefinedIn, Object: "a.go", ObjectType: EntityModule, ChunkID: "c5", SourcePath: "a.go"},
	}))
	searcher := NewSearcher(s)

	results, err := searcher.Search(ctx, []string{"alpha"}, nil, 1, []string{EntityFunction}, nil)
	require.NoError(t, err)

	// Module nodes are filtered, so no result is credited to one.
	for _, r := range results {
		assert.NotEqual(t, "a.go", r.Node)
	}
}

func TestSearcher_VectorSeedsReachNeighbors(t *testing.T) {
	// Given: seeds arriving from vector hits instead of query terms
	s := chainStore(t)
	searcher := NewSearcher(s)

	// When: seeding from the chunk that defined Beta -> Gamma
	results, err := searcher.Search(context.Background(), nil, []string{"c2"}, 1, nil, nil)
	require.NoError(t, err)

	// Then: the whole neighborhood of that edge surfaces
	require.NotEmpty(t, results)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	assert.Contains(t, ids, "c2")
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c3")
}

func TestSearcher_NoSeedsNoResults(t *testing.T) {
	s := chainStore(t)
	searcher := NewSearcher(s)

	results, err := searcher.Search(context.Background(), []string{"zzz"}, nil, 2, nil, nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}
