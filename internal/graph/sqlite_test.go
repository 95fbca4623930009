package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSQLiteStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedStore(t *testing.T, s Store) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), []Triple{
		{Subject: "auth.go", SubjectType: EntityModule, Predicate: RelContains, Object: "AuthService", ObjectType: EntityClass, ChunkID: "c1", SourcePath: "auth.go"},
		{Subject: "AuthService", SubjectType: EntityClass, Predicate: RelCalls, Object: "TokenStore", ObjectType: EntityInterface, ChunkID: "c1", SourcePath: "auth.go"},
		{Subject: "TokenStore", SubjectType: EntityInterface, Predicate: RelDefinedIn, Object: "token.go", ObjectType: EntityModule, ChunkID: "c2", SourcePath: "token.go"},
	}))
}

func TestSQLiteStore_InsertAndCount(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	nodes, err := s.NodeCount(ctx)
	require.NoError(t, err)
	// auth.go, AuthService, TokenStore, token.go
	assert.Equal(t, 4, nodes)
}

func TestSQLiteStore_InsertReplacesSameIdentity(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []Triple{
		{Subject: "A", Predicate: RelCalls, Object: "B", ChunkID: "old"},
	}))
	require.NoError(t, s.Insert(ctx, []Triple{
		{Subject: "A", Predicate: RelCalls, Object: "B", ChunkID: "new"},
	}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.TriplesByChunk(ctx, []string{"new"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ChunkID)
}

func TestSQLiteStore_NeighborsIgnoresCase(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)

	got, err := s.Neighbors(context.Background(), []string{"authservice"}, 10)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, RelContains, got[0].Predicate)
	assert.Equal(t, RelCalls, got[1].Predicate)
}

func TestSQLiteStore_SearchNodesRanksExactFirst(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []Triple{
		{Subject: "TokenStoreFactory", Predicate: RelCalls, Object: "NewPool", ChunkID: "c9"},
		{Subject: "TokenStore", Predicate: RelCalls, Object: "Database", ChunkID: "c8"},
	}))

	got, err := s.SearchNodes(ctx, []string{"tokenstore"}, 10)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "TokenStore", got[0].Subject)
	assert.Equal(t, "TokenStoreFactory", got[1].Subject)
}

func TestSQLiteStore_QueryWithTypeFilters(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)

	got, err := s.Query(context.Background(), TripleQuery{
		RelationshipTypes: []string{RelCalls},
		Limit:             10,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "AuthService", got[0].Subject)

	got, err = s.Query(context.Background(), TripleQuery{
		EntityTypes: []string{EntityInterface},
		Limit:       10,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteStore_QueryByText(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)

	got, err := s.Query(context.Background(), TripleQuery{Text: "TokenStore", Limit: 10})
	require.NoError(t, err)

	assert.Len(t, got, 2)
}

func TestSQLiteStore_DeleteBySource(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)
	ctx := context.Background()

	removed, err := s.DeleteBySource(ctx, "auth.go")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_Reset(t *testing.T) {
	s := testSQLiteStore(t)
	seedStore(t, s)
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	nodes, err := s.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, nodes)
}
