// Package profiling writes pprof artifacts for a run when the profiling
// flags ask for them. CPU and trace profiles cover the whole run; the heap
// snapshot is taken at shutdown.
package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Session collects the profiles requested for one process run. Empty paths
// disable the corresponding profile.
type Session struct {
	cpuPath   string
	heapPath  string
	tracePath string

	cpuFile   *os.File
	traceFile *os.File
}

// New builds a session for the given output paths.
func New(cpuPath, heapPath, tracePath string) *Session {
	return &Session{cpuPath: cpuPath, heapPath: heapPath, tracePath: tracePath}
}

// Active reports whether any profile was requested.
func (s *Session) Active() bool {
	return s.cpuPath != "" || s.heapPath != "" || s.tracePath != ""
}

// Start begins CPU profiling and tracing. Failing to start any requested
// profile is an error; a run with silently missing profiles wastes the
// whole exercise.
func (s *Session) Start() error {
	if s.cpuPath != "" {
		f, err := os.Create(s.cpuPath)
		if err != nil {
			return errors.Wrap(errors.KindInternal, "creating cpu profile", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrap(errors.KindInternal, "starting cpu profile", err)
		}
		s.cpuFile = f
	}

	if s.tracePath != "" {
		f, err := os.Create(s.tracePath)
		if err != nil {
			s.stopCPU()
			return errors.Wrap(errors.KindInternal, "creating trace file", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return errors.Wrap(errors.KindInternal, "starting trace", err)
		}
		s.traceFile = f
	}
	return nil
}

// Stop flushes the running profiles and writes the heap snapshot. Errors
// are returned but the session always winds down completely.
func (s *Session) Stop() error {
	s.stopCPU()

	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}

	if s.heapPath != "" {
		return writeHeap(s.heapPath)
	}
	return nil
}

func (s *Session) stopCPU() {
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}
}

// writeHeap snapshots live heap allocations after a forced GC so the
// profile reflects retained memory, not garbage.
func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "creating heap profile", err)
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return errors.Wrap(errors.KindInternal, "writing heap profile", err)
	}
	return nil
}
