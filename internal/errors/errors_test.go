package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesRetryableFromKind(t *testing.T) {
	transient := New(KindProviderTimeout, "embed call timed out")
	assert.True(t, transient.Retryable)

	caller := New(KindInvalidQuery, "query text is empty")
	assert.False(t, caller.Retryable)
}

func TestError_FormatIncludesKindAndCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(KindStorageUnavailable, "backend ping failed", cause)

	assert.Contains(t, err.Error(), "StorageUnavailable")
	assert.Contains(t, err.Error(), "backend ping failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilCauseReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, "nothing", nil))
}

func TestKindOf_WalksWrappedChain(t *testing.T) {
	inner := New(KindGraphDisabled, "graph store not configured").
		WithHint("set graph.enabled: true and re-index")
	outer := fmt.Errorf("query dispatch: %w", inner)

	assert.Equal(t, KindGraphDisabled, KindOf(outer))
	assert.Equal(t, "set graph.enabled: true and re-index", HintOf(outer))
}

func TestKindOf_MapsContextErrors(t *testing.T) {
	assert.Equal(t, KindDeadlineExceeded, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindDeadlineExceeded, KindOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
}

func TestKindOf_UnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("boom")))
}

func TestIs_MatchesOnKind(t *testing.T) {
	err := Newf(KindAlreadyRunning, "instance alive at %s", "http://127.0.0.1:7421")

	assert.True(t, stderrors.Is(err, New(KindAlreadyRunning, "")))
	assert.False(t, stderrors.Is(err, New(KindLockHeld, "")))
}

func TestWithDetail_AccumulatesPairs(t *testing.T) {
	err := New(KindStorageDimensionMismatch, "dimension changed").
		WithDetail("stored", "768").
		WithDetail("configured", "1024")

	require.NotNil(t, err.Details)
	assert.Equal(t, "768", err.Details["stored"])
	assert.Equal(t, "1024", err.Details["configured"])
}

func TestIsRetryable_UnclassifiedNotRetried(t *testing.T) {
	assert.False(t, IsRetryable(stderrors.New("boom")))
	assert.True(t, IsRetryable(New(KindStorageUnavailable, "down")))
	assert.False(t, IsRetryable(nil))
}
