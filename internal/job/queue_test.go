package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

func openTestQueue(t *testing.T, stateDir string) *Queue {
	t.Helper()
	q, err := Open(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_EnqueueAndGet(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	j, err := q.Enqueue(KindIndexPath, Params{Path: "docs", Recursive: true, IncludeCode: true})
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.False(t, j.CreatedAt.IsZero())

	got, ok := q.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, "docs", got.Params.Path)
	assert.True(t, got.Params.IncludeCode)
}

func TestQueue_EnqueueRejectsUnknownKind(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	_, err := q.Enqueue(Kind("defragment"), Params{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidQuery))
}

func TestQueue_ListFiltersAndPages(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	var ids []string
	for i := 0; i < 3; i++ {
		j, err := q.Enqueue(KindIndexPath, Params{})
		require.NoError(t, err)
		ids = append(ids, j.ID)
		time.Sleep(2 * time.Millisecond)
	}
	reset, err := q.Enqueue(KindReset, Params{})
	require.NoError(t, err)

	all := q.List(ListOptions{})
	require.Len(t, all, 4)
	assert.Equal(t, reset.ID, all[0].ID, "newest first")

	onlyIndex := q.List(ListOptions{Kinds: []Kind{KindIndexPath}})
	require.Len(t, onlyIndex, 3)

	paged := q.List(ListOptions{Limit: 2, Offset: 1})
	require.Len(t, paged, 2)
	assert.Equal(t, ids[2], paged[0].ID)

	_, err = q.Cancel(ids[0])
	require.NoError(t, err)
	cancelled := q.List(ListOptions{Statuses: []Status{StatusCancelled}})
	require.Len(t, cancelled, 1)
	assert.Equal(t, ids[0], cancelled[0].ID)
}

func TestQueue_CancelPending(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	j, err := q.Enqueue(KindIndexPath, Params{})
	require.NoError(t, err)

	got, err := q.Cancel(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.FinishedAt)

	// Cancelling again is a no-op, not an error.
	again, err := q.Cancel(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)
}

func TestQueue_CancelUnknownJob(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	_, err := q.Cancel("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestQueue_WatchStreamsTransitions(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	j, err := q.Enqueue(KindIndexPath, Params{})
	require.NoError(t, err)

	ch, stop, err := q.Watch(j.ID)
	require.NoError(t, err)
	defer stop()

	first := <-ch
	assert.Equal(t, StatusPending, first.Status)

	_, err = q.Cancel(j.ID)
	require.NoError(t, err)

	select {
	case got, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, StatusCancelled, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the cancellation")
	}

	// Terminal state closes the stream.
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel did not close")
	}
}

func TestQueue_WatchTerminalJobClosesImmediately(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	j, err := q.Enqueue(KindIndexPath, Params{})
	require.NoError(t, err)
	_, err = q.Cancel(j.ID)
	require.NoError(t, err)

	ch, stop, err := q.Watch(j.ID)
	require.NoError(t, err)
	defer stop()

	got := <-ch
	assert.Equal(t, StatusCancelled, got.Status)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestQueue_WatchUnknownJob(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	_, _, err := q.Watch("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestQueue_NextPendingIsFIFO(t *testing.T) {
	q := openTestQueue(t, t.TempDir())

	first, err := q.Enqueue(KindIndexPath, Params{})
	require.NoError(t, err)
	_, err = q.Enqueue(KindReset, Params{})
	require.NoError(t, err)

	next, ok := q.NextPending()
	require.True(t, ok)
	assert.Equal(t, first.ID, next.ID)

	_, err = q.Cancel(first.ID)
	require.NoError(t, err)

	next, ok = q.NextPending()
	require.True(t, ok)
	assert.Equal(t, KindReset, next.Kind)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	stateDir := t.TempDir()

	q := openTestQueue(t, stateDir)
	j, err := q.Enqueue(KindIndexPath, Params{Path: "src"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened := openTestQueue(t, stateDir)
	got, ok := reopened.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "src", got.Params.Path)
}
