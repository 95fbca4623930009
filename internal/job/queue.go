package job

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// JobsDirName is the queue's directory inside the state directory.
const JobsDirName = "jobs"

// watchBuffer bounds a watcher channel; slow watchers drop intermediate
// snapshots, never the terminal one.
const watchBuffer = 16

// Queue is the durable FIFO job queue: the JSONL log plus in-process
// notification for the worker and watchers.
type Queue struct {
	log *Log

	// wake nudges the worker; capacity one coalesces bursts.
	wake chan struct{}

	mu       sync.Mutex
	watchers map[string]map[int]chan Job
	nextSub  int
	running  map[string]context.CancelFunc
}

// Open replays (and, past the threshold, compacts) the job log under
// stateDir and marks interrupted jobs FAILED.
func Open(stateDir string) (*Queue, error) {
	l, err := OpenLog(filepath.Join(stateDir, JobsDirName))
	if err != nil {
		return nil, err
	}
	if _, err := l.Recover(); err != nil {
		_ = l.Close()
		return nil, err
	}
	return &Queue{
		log:      l,
		wake:     make(chan struct{}, 1),
		watchers: make(map[string]map[int]chan Job),
		running:  make(map[string]context.CancelFunc),
	}, nil
}

// Close stops the log. Watcher channels are closed so readers unblock.
func (q *Queue) Close() error {
	q.mu.Lock()
	for _, subs := range q.watchers {
		for _, ch := range subs {
			close(ch)
		}
	}
	q.watchers = make(map[string]map[int]chan Job)
	q.mu.Unlock()
	return q.log.Close()
}

// Enqueue appends a PENDING job and wakes the worker.
func (q *Queue) Enqueue(kind Kind, params Params) (Job, error) {
	if !validKind(kind) {
		return Job{}, errors.Newf(errors.KindInvalidQuery, "unknown job kind %q", kind)
	}

	j := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: nowUTC(),
	}
	if err := q.log.Append(j); err != nil {
		return Job{}, err
	}

	slog.Info("job_enqueued",
		slog.String("job_id", j.ID),
		slog.String("kind", string(kind)))
	q.notify(j)
	q.wakeWorker()
	return j, nil
}

// Get returns the newest snapshot for a job.
func (q *Queue) Get(id string) (Job, bool) {
	return q.log.Get(id)
}

// ListOptions filter and page the job listing.
type ListOptions struct {
	Statuses []Status
	Kinds    []Kind

	// Limit caps the result; zero means no cap. Offset skips newest-first.
	Limit  int
	Offset int
}

// List returns jobs newest-first, filtered and paged.
func (q *Queue) List(opts ListOptions) []Job {
	all := q.log.All()

	var out []Job
	for _, j := range all {
		if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, j.Status) {
			continue
		}
		if len(opts.Kinds) > 0 && !containsKind(opts.Kinds, j.Kind) {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Cancel requests cancellation. PENDING jobs transition to CANCELLED
// immediately; RUNNING jobs get their context cancelled and transition when
// the handler observes it. Terminal jobs are a no-op, which makes the
// operation idempotent.
func (q *Queue) Cancel(id string) (Job, error) {
	j, ok := q.log.Get(id)
	if !ok {
		return Job{}, errors.Newf(errors.KindNotFound, "job %s not found", id)
	}

	switch {
	case j.Status == StatusPending:
		now := nowUTC()
		j.Status = StatusCancelled
		j.FinishedAt = &now
		if err := q.log.Append(j); err != nil {
			return Job{}, err
		}
		slog.Info("job_cancelled", slog.String("job_id", id))
		q.notify(j)
		return j, nil

	case j.Status == StatusRunning:
		q.mu.Lock()
		cancel := q.running[id]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return j, nil

	default:
		return j, nil
	}
}

// Watch streams snapshots for one job, starting with its current state. The
// channel closes once the job is terminal or the returned stop function
// runs.
func (q *Queue) Watch(id string) (<-chan Job, func(), error) {
	j, ok := q.log.Get(id)
	if !ok {
		return nil, nil, errors.Newf(errors.KindNotFound, "job %s not found", id)
	}

	ch := make(chan Job, watchBuffer)
	ch <- j
	if j.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	q.mu.Lock()
	sub := q.nextSub
	q.nextSub++
	if q.watchers[id] == nil {
		q.watchers[id] = make(map[int]chan Job)
	}
	q.watchers[id][sub] = ch
	q.mu.Unlock()

	stop := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if subs, ok := q.watchers[id]; ok {
			if c, ok := subs[sub]; ok {
				delete(subs, sub)
				close(c)
			}
		}
	}
	return ch, stop, nil
}

// NextPending returns the oldest PENDING job, in first-enqueued order.
func (q *Queue) NextPending() (Job, bool) {
	for _, j := range q.log.All() {
		if j.Status == StatusPending {
			return j, true
		}
	}
	return Job{}, false
}

// Compact rewrites the log to the newest snapshot per job.
func (q *Queue) Compact() error {
	return q.log.Compact()
}

// Records reports the raw log line count.
func (q *Queue) Records() int {
	return q.log.Records()
}

// append persists a worker transition and fans it out to watchers.
func (q *Queue) append(j Job) error {
	if err := q.log.Append(j); err != nil {
		return err
	}
	q.notify(j)
	return nil
}

func (q *Queue) notify(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	subs := q.watchers[j.ID]
	for id, ch := range subs {
		select {
		case ch <- j:
		default:
			// Drop intermediate updates for slow readers, but never a
			// terminal state: make room by evicting the oldest update.
			if j.Status.Terminal() {
				select {
				case <-ch:
				default:
				}
				ch <- j
			}
		}
		if j.Status.Terminal() {
			delete(subs, id)
			close(ch)
		}
	}
	if j.Status.Terminal() {
		delete(q.watchers, j.ID)
	}
}

func (q *Queue) wakeWorker() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// registerRunning records the cancel hook for a RUNNING job.
func (q *Queue) registerRunning(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running[id] = cancel
}

func (q *Queue) unregisterRunning(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(list []Kind, k Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
