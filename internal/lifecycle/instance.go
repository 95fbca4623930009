package lifecycle

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Options parameterize instance startup.
type Options struct {
	// ProjectRoot anchors the state directory.
	ProjectRoot string

	// Mode is published in the runtime file (storage backend in practice).
	Mode string

	// Port is the requested listen port. Zero asks the OS for a free one;
	// a fixed port that is already bound is fatal.
	Port int

	// Probe overrides the health probe used to judge a competing holder.
	// Nil uses HTTPProbe.
	Probe Probe
}

// Instance is a started, locked, announced server identity. The caller
// serves on Listener and must call Release on the way out.
type Instance struct {
	Runtime  Runtime
	Listener net.Listener

	stateDir string
	lock     *flock.Flock
}

// Start claims the project: acquire the lock (evicting a dead holder,
// refusing a live one), bind the listener, and publish the runtime file.
func Start(opts Options) (*Instance, error) {
	if opts.ProjectRoot == "" {
		return nil, errors.New(errors.KindInternal, "project root is required")
	}
	stateDir := config.StateDir(opts.ProjectRoot)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "creating state directory", err)
	}

	lock, err := acquireLock(stateDir, opts.Probe)
	if err != nil {
		return nil, err
	}

	listener, err := bind(opts.Port)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	port := listener.Addr().(*net.TCPAddr).Port

	rt := Runtime{
		SchemaVersion: SchemaVersion,
		Mode:          opts.Mode,
		ProjectRoot:   opts.ProjectRoot,
		InstanceID:    InstanceID(opts.ProjectRoot),
		BaseURL:       fmt.Sprintf("http://127.0.0.1:%d", port),
		Port:          port,
		PID:           os.Getpid(),
		StartedAt:     time.Now().UTC(),
	}
	if err := writeRuntime(stateDir, &rt); err != nil {
		listener.Close()
		lock.Unlock()
		return nil, err
	}

	slog.Info("instance_started",
		slog.String("instance_id", rt.InstanceID),
		slog.String("base_url", rt.BaseURL),
		slog.Int("pid", rt.PID))

	return &Instance{
		Runtime:  rt,
		Listener: listener,
		stateDir: stateDir,
		lock:     lock,
	}, nil
}

// acquireLock takes the advisory lock. When another process holds it, the
// stale-holder rules apply: a live, healthy holder means AlreadyRunning with
// its base URL; a holder we cannot confirm alive means LockHeld — flock
// releases on process death, so a lock that stays held belongs to a live
// process even when its runtime file is missing or stale.
func acquireLock(stateDir string, probe Probe) (*flock.Flock, error) {
	lock := flock.New(LockPath(stateDir))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "acquiring instance lock", err)
	}
	if locked {
		// Any runtime file we find now is a leftover from a crashed
		// instance; the new runtime write below replaces it.
		if rt, err := ReadRuntime(stateDir); err == nil {
			slog.Warn("stale_runtime_evicted",
				slog.Int("pid", rt.PID),
				slog.String("base_url", rt.BaseURL))
		}
		return lock, nil
	}

	if probe == nil {
		probe = HTTPProbe
	}
	if rt, err := ReadRuntime(stateDir); err == nil && processAlive(rt.PID) && probe(rt.BaseURL) {
		return nil, errors.Newf(errors.KindAlreadyRunning,
			"an instance is already serving this project at %s", rt.BaseURL).
			WithHint("use the running instance, or stop it first")
	}
	return nil, errors.New(errors.KindLockHeld, "instance lock held by another process").
		WithHint("another start may be in flight; retry in a moment")
}

func bind(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		if port != 0 {
			return nil, errors.Wrapf(errors.KindInvalidConfig, err, "binding port %d", port).
				WithHint("set server.port: 0 to let the OS pick a free port")
		}
		return nil, errors.Wrap(errors.KindInternal, "binding listener", err)
	}
	return listener, nil
}

// Release withdraws the instance: delete the runtime file, drop the lock,
// close the listener if the server has not consumed it. Safe to call after
// the HTTP server already closed the listener.
func (i *Instance) Release() {
	if err := os.Remove(RuntimePath(i.stateDir)); err != nil && !os.IsNotExist(err) {
		slog.Warn("runtime_file_remove_failed", slog.String("error", err.Error()))
	}
	if err := i.lock.Unlock(); err != nil {
		slog.Warn("instance_unlock_failed", slog.String("error", err.Error()))
	}
	if err := os.Remove(LockPath(i.stateDir)); err != nil && !os.IsNotExist(err) {
		slog.Warn("lock_file_remove_failed", slog.String("error", err.Error()))
	}
	i.Listener.Close()
	slog.Info("instance_released", slog.String("instance_id", i.Runtime.InstanceID))
}
