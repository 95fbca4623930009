package index

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// ManifestEntry records what was last indexed for one source path.
type ManifestEntry struct {
	Hash      string    `json:"hash"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Manifest tracks per-file content hashes so re-index runs skip unchanged
// files. It persists as JSON in the state directory and is written
// atomically after every file, which keeps it honest across cancellation.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]ManifestEntry
}

// LoadManifest reads the manifest at path; a missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]ManifestEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "read manifest", err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		// A corrupt manifest only costs a full re-index.
		m.entries = make(map[string]ManifestEntry)
	}
	return m, nil
}

// Get reports the recorded entry for a source path.
func (m *Manifest) Get(sourcePath string) (ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sourcePath]
	return e, ok
}

// Put records an entry; the change is in-memory until Save.
func (m *Manifest) Put(sourcePath string, e ManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sourcePath] = e
}

// Delete drops an entry.
func (m *Manifest) Delete(sourcePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sourcePath)
}

// Paths lists every recorded source path.
func (m *Manifest) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for p := range m.entries {
		out = append(out, p)
	}
	return out
}

// Len reports the number of recorded files.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reset drops every entry and persists the empty manifest.
func (m *Manifest) Reset() error {
	m.mu.Lock()
	m.entries = make(map[string]ManifestEntry)
	m.mu.Unlock()
	return m.Save()
}

// Save writes the manifest atomically.
func (m *Manifest) Save() error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return errors.Wrap(errors.KindInternal, "encode manifest", err)
	}
	if err := renameio.WriteFile(m.path, data, 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "write manifest", err)
	}
	return nil
}
