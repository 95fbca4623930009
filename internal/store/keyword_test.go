package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memKeywordIndex(t *testing.T) *keywordIndex {
	t.Helper()
	idx, err := newKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func keywordChunk(id, text, sourceType, language string) *Chunk {
	return &Chunk{
		ChunkID:    id,
		SourcePath: "src/" + id,
		Text:       text,
		SourceType: sourceType,
		Language:   language,
	}
}

func TestKeywordIndex_SearchFindsIdentifierParts(t *testing.T) {
	// Given: chunks containing camelCase identifiers
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "func resolveConfigPath walks parent directories", SourceTypeCode, "go"),
		keywordChunk("c2", "the scheduler drains worker queues on shutdown", SourceTypeCode, "go"),
	}))

	// When: searching with split query terms
	hits, err := idx.Search(context.Background(), "resolve config", 10, Filters{})
	require.NoError(t, err)

	// Then: the identifier-bearing chunk matches
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestKeywordIndex_FilterNarrowsResults(t *testing.T) {
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "retry policy backoff configuration", SourceTypeCode, "go"),
		keywordChunk("c2", "retry policy backoff configuration", SourceTypeDocument, ""),
	}))

	hits, err := idx.Search(context.Background(), "retry backoff", 10, Filters{
		SourceTypes: []string{"document"},
	})
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ID)
}

func TestKeywordIndex_MembershipFilter(t *testing.T) {
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "parse tokens from the stream", SourceTypeCode, "go"),
		keywordChunk("c2", "parse tokens from the stream", SourceTypeCode, "python"),
		keywordChunk("c3", "parse tokens from the stream", SourceTypeCode, "rust"),
	}))

	hits, err := idx.Search(context.Background(), "parse tokens", 10, Filters{
		Languages: []string{"go", "rust"},
	})
	require.NoError(t, err)

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
}

func TestKeywordIndex_EmptyQueryReturnsNothing(t *testing.T) {
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "anything at all", SourceTypeDocument, ""),
	}))

	hits, err := idx.Search(context.Background(), "   ", 10, Filters{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordIndex_Delete(t *testing.T) {
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "ephemeral content", SourceTypeDocument, ""),
	}))

	require.NoError(t, idx.Delete(context.Background(), []string{"c1"}))

	hits, err := idx.Search(context.Background(), "ephemeral", 10, Filters{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestKeywordIndex_SummaryIsSearchable(t *testing.T) {
	// Given: a chunk whose summary mentions terms absent from the body
	idx := memKeywordIndex(t)
	chunk := keywordChunk("c1", "x := y + z", SourceTypeCode, "go")
	chunk.Summary = "computes the checksum of uploaded payloads"
	require.NoError(t, idx.Index(context.Background(), []*Chunk{chunk}))

	hits, err := idx.Search(context.Background(), "checksum payload", 10, Filters{})
	require.NoError(t, err)

	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestKeywordIndex_Reset(t *testing.T) {
	idx := memKeywordIndex(t)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		keywordChunk("c1", "resettable content", SourceTypeDocument, ""),
	}))

	require.NoError(t, idx.Reset())

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
