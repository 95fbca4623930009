package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// flakyEmbedder fails with a transient kind a fixed number of times before
// delegating to the static embedder.
type flakyEmbedder struct {
	*Static
	failures int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New(errors.KindProviderUnavailable, "transient outage")
	}
	return f.Static.Embed(ctx, text)
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyEmbedder{Static: NewStatic(), failures: 2}
	r := NewRetrying(inner)
	r.cfg.InitialDelay = 0

	vec, err := r.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Zero(t, inner.failures)
}

func TestRetrying_ExhaustionSurfacesLastError(t *testing.T) {
	inner := &flakyEmbedder{Static: NewStatic(), failures: 100}
	r := NewRetrying(inner)
	r.cfg.InitialDelay = 0
	r.cfg.MaxAttempts = 3

	_, err := r.Embed(context.Background(), "never works")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProviderUnavailable))
	assert.Equal(t, 97, inner.failures)
}

// brokenEmbedder always fails with a caller-error kind.
type brokenEmbedder struct {
	*Static
	calls int
}

func (b *brokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.calls++
	return nil, errors.New(errors.KindInvalidConfig, "bad model")
}

func TestRetrying_NonRetryableFailsFast(t *testing.T) {
	inner := &brokenEmbedder{Static: NewStatic()}
	r := NewRetrying(inner)
	r.cfg.InitialDelay = 0

	_, err := r.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
