package job

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

func openTestLog(t *testing.T, dir string) *Log {
	t.Helper()
	l, err := OpenLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func pendingJob(id string, kind Kind) Job {
	return Job{ID: id, Kind: kind, Status: StatusPending, CreatedAt: nowUTC()}
}

func TestLog_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	l := openTestLog(t, dir)
	j := pendingJob("job-1", KindIndexPath)
	require.NoError(t, l.Append(j))

	j.Status = StatusRunning
	require.NoError(t, l.Append(j))
	j.Status = StatusDone
	j.ChunksAfter = 42
	require.NoError(t, l.Append(j))
	require.NoError(t, l.Close())

	reopened := openTestLog(t, dir)
	got, ok := reopened.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusDone, got.Status, "newest record wins")
	assert.Equal(t, 42, got.ChunksAfter)
	assert.Equal(t, 3, reopened.Records())
}

func TestLog_RejectsInvalidTransitions(t *testing.T) {
	l := openTestLog(t, t.TempDir())

	j := pendingJob("job-1", KindReset)
	require.NoError(t, l.Append(j))

	// PENDING cannot jump straight to DONE.
	j.Status = StatusDone
	require.Error(t, l.Append(j))

	j.Status = StatusRunning
	require.NoError(t, l.Append(j))
	j.Status = StatusDone
	require.NoError(t, l.Append(j))

	// Terminal states never transition.
	j.Status = StatusRunning
	err := l.Append(j)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestLog_NewJobMustBePending(t *testing.T) {
	l := openTestLog(t, t.TempDir())

	err := l.Append(Job{ID: "job-1", Kind: KindReset, Status: StatusRunning, CreatedAt: nowUTC()})
	require.Error(t, err)
}

func TestLog_MalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()

	l := openTestLog(t, dir)
	require.NoError(t, l.Append(pendingJob("job-1", KindIndexPath)))
	require.NoError(t, l.Close())

	// Simulate a torn write at the tail.
	f, err := os.OpenFile(filepath.Join(dir, LogName), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"job_id":"job-2","sta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := openTestLog(t, dir)
	_, ok := reopened.Get("job-1")
	assert.True(t, ok)
	_, ok = reopened.Get("job-2")
	assert.False(t, ok, "torn record must not surface")
}

func TestLog_RecoverFailsInterruptedJobs(t *testing.T) {
	dir := t.TempDir()

	l := openTestLog(t, dir)
	j := pendingJob("job-1", KindIndexPath)
	require.NoError(t, l.Append(j))
	j.Status = StatusRunning
	require.NoError(t, l.Append(j))

	done := pendingJob("job-2", KindReset)
	require.NoError(t, l.Append(done))
	done.Status = StatusRunning
	require.NoError(t, l.Append(done))
	done.Status = StatusDone
	require.NoError(t, l.Append(done))
	require.NoError(t, l.Close())

	reopened := openTestLog(t, dir)
	n, err := reopened.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := reopened.Get("job-1")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, string(errors.KindInterruptedByRestart), got.Error)
	require.NotNil(t, got.FinishedAt)

	got, _ = reopened.Get("job-2")
	assert.Equal(t, StatusDone, got.Status, "terminal jobs are untouched")
}

func TestLog_CompactKeepsNewestPerJob(t *testing.T) {
	dir := t.TempDir()

	l := openTestLog(t, dir)
	for _, id := range []string{"a", "b", "c"} {
		j := pendingJob(id, KindIndexPath)
		require.NoError(t, l.Append(j))
		j.Status = StatusRunning
		require.NoError(t, l.Append(j))
		j.Status = StatusDone
		require.NoError(t, l.Append(j))
	}
	require.Equal(t, 9, l.Records())

	require.NoError(t, l.Compact())
	assert.Equal(t, 3, l.Records())

	// The append handle survives compaction.
	require.NoError(t, l.Append(pendingJob("d", KindReset)))
	require.NoError(t, l.Close())

	reopened := openTestLog(t, dir)
	assert.Equal(t, 4, reopened.Records())
	assert.Len(t, reopened.All(), 4)
	got, ok := reopened.Get("d")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestLog_AllPreservesFirstSeenOrder(t *testing.T) {
	l := openTestLog(t, t.TempDir())

	require.NoError(t, l.Append(pendingJob("first", KindIndexPath)))
	require.NoError(t, l.Append(pendingJob("second", KindAddPath)))

	// Touch the first job again; it must keep its slot.
	j, _ := l.Get("first")
	j.Status = StatusRunning
	require.NoError(t, l.Append(j))

	all := l.All()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].ID)
	assert.Equal(t, "second", all[1].ID)
}
