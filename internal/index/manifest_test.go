package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_MissingFileYieldsEmpty(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestManifest_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)

	m.Put("docs/a.md", ManifestEntry{Hash: "abc", Chunks: 3, IndexedAt: time.Now().UTC()})
	m.Put("src/b.go", ManifestEntry{Hash: "def", Chunks: 7, IndexedAt: time.Now().UTC()})
	require.NoError(t, m.Save())

	reloaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())

	e, ok := reloaded.Get("docs/a.md")
	require.True(t, ok)
	assert.Equal(t, "abc", e.Hash)
	assert.Equal(t, 3, e.Chunks)

	assert.ElementsMatch(t, []string{"docs/a.md", "src/b.go"}, reloaded.Paths())
}

func TestManifest_CorruptFileIsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len(), "corrupt manifest degrades to a full re-index")
}

func TestManifest_Delete(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	m.Put("gone.md", ManifestEntry{Hash: "x"})
	m.Delete("gone.md")

	_, ok := m.Get("gone.md")
	assert.False(t, ok)
}

func TestManifest_ResetPersistsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	m.Put("a.md", ManifestEntry{Hash: "1"})
	require.NoError(t, m.Save())

	require.NoError(t, m.Reset())

	reloaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Len())
}
