package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// scripted is a Generator that replays canned responses, used across the
// package tests.
type scripted struct {
	replies []string
	err     error
	calls   int
}

func (s *scripted) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *scripted) ModelName() string                  { return "scripted" }
func (s *scripted) Available(ctx context.Context) bool { return true }
func (s *scripted) Close() error                       { return nil }

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	b := NewBreaker(&scripted{replies: []string{"hello"}})

	out, err := b.Generate(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &scripted{err: errors.New(errors.KindProviderUnavailable, "down")}
	b := NewBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Generate(ctx, "p")
		require.Error(t, err)
	}
	callsBefore := inner.calls

	// Breaker is open: the provider is no longer called.
	_, err := b.Generate(ctx, "p")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProviderUnavailable))
	assert.NotEmpty(t, errors.HintOf(err))
	assert.Equal(t, callsBefore, inner.calls)
	assert.False(t, b.Available(ctx))
}

func TestBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	inner := &scripted{err: errors.New(errors.KindInvalidConfig, "bad prompt config")}
	b := NewBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := b.Generate(ctx, "p")
		require.Error(t, err)
	}

	// Non-retryable kinds count as successful for trip purposes.
	assert.Equal(t, 10, inner.calls)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(GeneratorConfig{Provider: "llamacpp", Model: "m"})

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidConfig))
}
