package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Inactive(t *testing.T) {
	s := New("", "", "")
	assert.False(t, s.Active())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestSession_WritesRequestedProfiles(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.pprof")
	heap := filepath.Join(dir, "heap.pprof")

	s := New(cpu, heap, "")
	assert.True(t, s.Active())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	for _, path := range []string{cpu, heap} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), path)
	}
}

func TestSession_Trace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")

	s := New("", "", path)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSession_BadPathFailsStart(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "cpu.pprof"), "", "")
	assert.Error(t, s.Start())
}
