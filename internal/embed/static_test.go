package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Deterministic(t *testing.T) {
	e := NewStatic()

	a, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
}

func TestStatic_UnitLength(t *testing.T) {
	e := NewStatic()

	vec, err := e.Embed(context.Background(), "hybrid retrieval with score fusion")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-5)
}

func TestStatic_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStatic()

	vec, err := e.Embed(context.Background(), "   \n\t  ")
	require.NoError(t, err)

	assert.Len(t, vec, StaticDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStatic_SimilarTextCloserThanUnrelated(t *testing.T) {
	e := NewStatic()
	ctx := context.Background()

	base, err := e.Embed(ctx, "open the database connection pool")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "close the database connection pool")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "render sprite animation frames")
	require.NoError(t, err)

	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestStatic_EmbedBatchPreservesOrder(t *testing.T) {
	e := NewStatic()
	texts := []string{"alpha text", "", "gamma text"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(context.Background(), "gamma text")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[2])
}

func TestStatic_ClosedEmbedderErrors(t *testing.T) {
	e := NewStatic()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestSplitCodeToken(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseConfig", []string{"parse", "Config"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"simple", []string{"simple"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCodeToken(tt.in))
		})
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
