package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks how many texts reach the inner provider.
type countingEmbedder struct {
	*Static
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Static.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.Static.EmbedBatch(ctx, texts)
}

func TestCached_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{Static: NewStatic()}
	c := NewCached(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "same text")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCached_BatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{Static: NewStatic()}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	// One from the single call plus the two batch misses.
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestCached_EvictionReEmbeds(t *testing.T) {
	inner := &countingEmbedder{Static: NewStatic()}
	c := NewCached(inner, 1)
	ctx := context.Background()

	_, err := c.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "second") // evicts "first"
	require.NoError(t, err)
	_, err = c.Embed(ctx, "first")
	require.NoError(t, err)

	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestCached_Passthrough(t *testing.T) {
	c := NewCached(NewStatic(), 10)

	assert.Equal(t, StaticDimensions, c.Dimensions())
	assert.Equal(t, StaticModelName, c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.NoError(t, c.Close())
}
