// Package lifecycle owns the single-instance contract: one live server per
// project, announced through an atomically written runtime file and guarded
// by an advisory lock in the project state directory.
package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

const (
	// RuntimeFileName is the discovery file clients read.
	RuntimeFileName = "runtime.json"

	// LockFileName is the advisory lock guarding the runtime file and all
	// index mutation.
	LockFileName = "instance.lock"

	// SchemaVersion stamps the runtime file format.
	SchemaVersion = 1
)

// probeTimeout bounds one health probe during discovery or eviction.
const probeTimeout = 2 * time.Second

// Runtime is the discovery record a live instance publishes.
type Runtime struct {
	SchemaVersion int       `json:"schema_version"`
	Mode          string    `json:"mode"`
	ProjectRoot   string    `json:"project_root"`
	InstanceID    string    `json:"instance_id"`
	BaseURL       string    `json:"base_url"`
	Port          int       `json:"port"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
}

// InstanceID derives a stable identifier from the project path.
func InstanceID(projectRoot string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectRoot)))
	return hex.EncodeToString(sum[:8])
}

// RuntimePath returns the runtime file location for a state directory.
func RuntimePath(stateDir string) string {
	return filepath.Join(stateDir, RuntimeFileName)
}

// LockPath returns the lock file location for a state directory.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, LockFileName)
}

// ReadRuntime loads the runtime file. A missing file is KindNotFound; a
// file that does not parse is treated the same way, since a torn write from
// a crashed instance is indistinguishable from garbage.
func ReadRuntime(stateDir string) (*Runtime, error) {
	data, err := os.ReadFile(RuntimePath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.KindNotFound, "no runtime file")
		}
		return nil, errors.Wrap(errors.KindInternal, "reading runtime file", err)
	}

	var rt Runtime
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, errors.New(errors.KindNotFound, "runtime file unreadable")
	}
	return &rt, nil
}

func writeRuntime(stateDir string, rt *Runtime) error {
	data, err := json.MarshalIndent(rt, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindInternal, "encoding runtime file", err)
	}
	if err := renameio.WriteFile(RuntimePath(stateDir), append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(errors.KindInternal, "writing runtime file", err)
	}
	return nil
}

// Discover resolves the live instance for a project: the runtime file must
// exist, its PID must be alive, and its health endpoint must answer. Anything
// less is KindNotFound — a stale file does not count as an instance.
func Discover(stateDir string, probe Probe) (*Runtime, error) {
	rt, err := ReadRuntime(stateDir)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		probe = HTTPProbe
	}
	if !processAlive(rt.PID) || !probe(rt.BaseURL) {
		return nil, errors.New(errors.KindNotFound, "runtime file is stale")
	}
	return rt, nil
}

// Probe reports whether an instance at baseURL answers its health endpoint.
type Probe func(baseURL string) bool

// HTTPProbe is the default probe: GET {base_url}/health within the probe
// timeout.
func HTTPProbe(baseURL string) bool {
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// processAlive reports whether a PID names a live process. On Unix,
// FindProcess always succeeds, so signal 0 does the real check.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
