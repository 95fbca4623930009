// Package job persists index work as an append-only JSONL log and executes
// it on a single-consumer worker. Every state transition appends a full job
// snapshot; the newest record per job_id wins on replay, so the log is
// crash-safe without any in-place updates.
package job

import (
	"time"
)

// Kind enumerates the work the worker knows how to run.
type Kind string

const (
	KindIndexPath    Kind = "index_path"
	KindAddPath      Kind = "add_path"
	KindRebuildGraph Kind = "rebuild_graph"
	KindReset        Kind = "reset"
)

// Kinds lists every job kind.
var Kinds = []Kind{KindIndexPath, KindAddPath, KindRebuildGraph, KindReset}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusDone      Status = "DONE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a job in this status can never transition again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// validTransition encodes the lifecycle DAG. A RUNNING job may append
// RUNNING records to report progress.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusRunning || to == StatusDone ||
			to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Params carries the job-kind-specific request fields. Indexing kinds use
// the path and chunking fields; rebuild_graph and reset ignore them.
type Params struct {
	Path         string `json:"path,omitempty"`
	Recursive    bool   `json:"recursive,omitempty"`
	IncludeCode  bool   `json:"include_code,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
	Force        bool   `json:"force,omitempty"`
}

// Progress is the counter-only payload a handler may report while RUNNING.
// FilesRemoved counts files retired because they disappeared from disk; the
// worker uses it to tell a legitimate chunk-count shrink from data loss.
type Progress struct {
	FilesDone    int `json:"files_done"`
	FilesTotal   int `json:"files_total"`
	Chunks       int `json:"chunks"`
	FilesRemoved int `json:"files_removed,omitempty"`
}

// Job is one log record: a full snapshot of the job at a transition.
type Job struct {
	ID     string `json:"job_id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	Params Params `json:"params"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	ChunksBefore int `json:"chunks_before"`
	ChunksAfter  int `json:"chunks_after"`

	Progress *Progress `json:"progress,omitempty"`

	// Error holds the failure reason for FAILED jobs.
	Error string `json:"error,omitempty"`
}
