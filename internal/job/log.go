package job

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// LogName is the JSONL job log inside the jobs directory.
const LogName = "jobs.log"

// CompactThreshold is the record count past which OpenLog compacts on
// startup.
const CompactThreshold = 1000

// maxRecordSize bounds a single log line during replay.
const maxRecordSize = 1 << 20

// Log is the append-only JSONL job log. Appends validate lifecycle
// transitions; replay keeps the newest record per job and the order in
// which jobs first appeared, which is the FIFO order the worker consumes.
type Log struct {
	path string

	mu      sync.Mutex
	f       *os.File
	jobs    map[string]Job
	order   []string
	records int
}

// OpenLog replays the log at dir/jobs.log (creating the directory as
// needed) and opens it for appending. Oversized logs are compacted first.
func OpenLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "create jobs directory", err)
	}

	l := &Log{
		path: filepath.Join(dir, LogName),
		jobs: make(map[string]Job),
	}
	if err := l.replay(); err != nil {
		return nil, err
	}

	if l.records > CompactThreshold {
		if err := l.compactLocked(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, "open job log", err)
	}
	l.f = f
	return l, nil
}

// replay loads the newest snapshot per job. Malformed lines are skipped: a
// torn final write after a crash must not wedge the queue.
func (l *Log) replay() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "read job log", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	skipped := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		l.records++

		var j Job
		if err := json.Unmarshal(line, &j); err != nil || j.ID == "" {
			skipped++
			continue
		}
		if _, seen := l.jobs[j.ID]; !seen {
			l.order = append(l.order, j.ID)
		}
		l.jobs[j.ID] = j
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "scan job log", err)
	}

	if skipped > 0 {
		slog.Warn("job_log_records_skipped", slog.Int("skipped", skipped))
	}
	return nil
}

// Append validates the transition and writes one snapshot line.
func (l *Log) Append(j Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(j)
}

func (l *Log) appendLocked(j Job) error {
	if j.ID == "" {
		return errors.New(errors.KindInternal, "job record missing id")
	}

	prev, exists := l.jobs[j.ID]
	if !exists {
		if j.Status != StatusPending {
			return errors.Newf(errors.KindInternal, "new job %s must start PENDING, got %s", j.ID, j.Status)
		}
	} else if !validTransition(prev.Status, j.Status) {
		return errors.Newf(errors.KindConflict, "job %s cannot transition %s -> %s", j.ID, prev.Status, j.Status)
	}

	data, err := json.Marshal(j)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "encode job record", err)
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "append job record", err)
	}
	if err := l.f.Sync(); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "sync job log", err)
	}

	if !exists {
		l.order = append(l.order, j.ID)
	}
	l.jobs[j.ID] = j
	l.records++
	return nil
}

// Get returns the newest snapshot for a job.
func (l *Log) Get(id string) (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	return j, ok
}

// All returns every job's newest snapshot in first-seen order.
func (l *Log) All() []Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Job, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.jobs[id])
	}
	return out
}

// Records reports the raw line count, which drives compaction.
func (l *Log) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records
}

// Recover marks every job that was RUNNING when the previous instance died
// as FAILED. Interrupted jobs are never auto-resumed; a re-index is cheap
// and always safe because upserts are idempotent.
func (l *Log) Recover() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recovered := 0
	for _, id := range l.order {
		j := l.jobs[id]
		if j.Status != StatusRunning {
			continue
		}
		now := nowUTC()
		j.Status = StatusFailed
		j.FinishedAt = &now
		j.Error = string(errors.KindInterruptedByRestart)
		if err := l.appendLocked(j); err != nil {
			return recovered, err
		}
		recovered++
		slog.Warn("job_interrupted_by_restart", slog.String("job_id", id))
	}
	return recovered, nil
}

// Compact rewrites the log to one line per job, newest snapshot only.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.compactLocked(); err != nil {
		return err
	}

	// Reopen the append handle against the rewritten file.
	if l.f != nil {
		_ = l.f.Close()
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "reopen job log", err)
	}
	l.f = f
	return nil
}

func (l *Log) compactLocked() error {
	before := l.records

	var buf bytes.Buffer
	for _, id := range l.order {
		data, err := json.Marshal(l.jobs[id])
		if err != nil {
			return errors.Wrap(errors.KindInternal, "encode job record", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := renameio.WriteFile(l.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, "compact job log", err)
	}
	l.records = len(l.order)

	slog.Info("job_log_compacted",
		slog.Int("records_before", before),
		slog.Int("records_after", l.records))
	return nil
}

// Close releases the append handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
