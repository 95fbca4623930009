package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

func TestParseFilters_ScalarAndList(t *testing.T) {
	// Given: a wire-level filter map mixing scalar and list values
	raw := map[string]any{
		"source_type": "Code",
		"language":    []any{"Go", "python"},
	}

	// When: parsed
	f, err := ParseFilters(raw)
	require.NoError(t, err)

	// Then: values are lowercased membership sets
	assert.Equal(t, []string{"code"}, f.SourceTypes)
	assert.ElementsMatch(t, []string{"go", "python"}, f.Languages)
	assert.Empty(t, f.SymbolTypes)
}

func TestParseFilters_UnknownKey(t *testing.T) {
	_, err := ParseFilters(map[string]any{"file_size": "big"})

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidFilter))
	assert.Contains(t, err.Error(), "file_size")
}

func TestParseFilters_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "empty string", raw: map[string]any{"language": ""}},
		{name: "empty list", raw: map[string]any{"language": []any{}}},
		{name: "non-string element", raw: map[string]any{"language": []any{42}}},
		{name: "wrong type", raw: map[string]any{"language": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilters(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidFilter))
		})
	}
}

func TestFilters_WireRoundTrips(t *testing.T) {
	f := Filters{
		SourceTypes: []string{"code"},
		Languages:   []string{"go", "python"},
	}

	wire := f.Wire()
	assert.Equal(t, "code", wire["source_type"], "single values go out as scalars")
	assert.Equal(t, []string{"go", "python"}, wire["language"])

	back, err := ParseFilters(wire)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

func TestFilters_WireEmptyIsNil(t *testing.T) {
	assert.Nil(t, Filters{}.Wire(), "clients must omit the field entirely")
}

func TestFilters_Match(t *testing.T) {
	f := Filters{
		SourceTypes: []string{"code"},
		Languages:   []string{"go", "python"},
	}

	match := &Chunk{SourceType: "code", Language: "Go"}
	miss := &Chunk{SourceType: "document", Language: "go"}

	assert.True(t, f.Match(match))
	assert.False(t, f.Match(miss))
}

func TestFilters_GraphFieldsDoNotRestrictChunks(t *testing.T) {
	// Given: only graph-level fields are set
	f, err := ParseFilters(map[string]any{
		"entity_types":       []any{"Function"},
		"relationship_types": "calls",
	})
	require.NoError(t, err)

	// Then: chunk-level filtering sees no restriction
	assert.True(t, f.Empty())
	assert.True(t, f.Match(&Chunk{SourceType: "document"}))
	assert.Equal(t, []string{"function"}, f.EntityTypes)
	assert.Equal(t, []string{"calls"}, f.RelationshipTypes)
}
