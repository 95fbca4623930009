package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Handler executes one job kind. report may be called at checkpoints to
// append a counter-only progress record; it must not be called after the
// handler returns.
type Handler func(ctx context.Context, j Job, report func(Progress)) error

// Counters read the observable store sizes the worker verifies against.
// GraphNodes is nil when the knowledge graph is disabled.
type Counters struct {
	Chunks     func(ctx context.Context) (int, error)
	GraphNodes func(ctx context.Context) (int, error)
}

// Worker consumes the queue one job at a time in enqueue order. Exactly one
// job runs per instance; cancellation is cooperative through the job
// context.
type Worker struct {
	queue    *Queue
	counters Counters
	handlers map[Kind]Handler

	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu           sync.Mutex
	activeID     string
	activeCancel context.CancelFunc
}

// NewWorker builds a worker over the queue. Counters.Chunks is required.
func NewWorker(queue *Queue, counters Counters) *Worker {
	return &Worker{
		queue:    queue,
		counters: counters,
		handlers: make(map[Kind]Handler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register installs the handler for one job kind.
func (w *Worker) Register(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Start launches the consume loop. Non-blocking; Stop shuts it down.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Stop halts intake and waits for the active job. When ctx expires first,
// the active job is cancelled and Stop waits for it to unwind.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		if w.activeCancel != nil {
			w.activeCancel()
		}
		w.mu.Unlock()
		<-w.doneCh
		return ctx.Err()
	}
}

// Active reports the running job id, if any.
func (w *Worker) Active() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID, w.activeID != ""
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		for {
			if w.stopped(ctx) {
				return
			}
			j, ok := w.queue.NextPending()
			if !ok {
				break
			}
			w.runJob(ctx, j)
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-w.queue.wake:
		}
	}
}

func (w *Worker) stopped(ctx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) runJob(ctx context.Context, j Job) {
	jctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.activeID, w.activeCancel = j.ID, cancel
	w.mu.Unlock()
	w.queue.registerRunning(j.ID, cancel)
	defer func() {
		w.queue.unregisterRunning(j.ID)
		w.mu.Lock()
		w.activeID, w.activeCancel = "", nil
		w.mu.Unlock()
	}()

	now := nowUTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	if err := w.queue.append(j); err != nil {
		slog.Error("job_transition_failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()))
		return
	}

	before, err := w.counters.Chunks(jctx)
	if err != nil {
		w.finish(j, StatusFailed, fmt.Sprintf("read chunk count: %v", err))
		return
	}
	j.ChunksBefore = before
	nodesBefore := 0
	if j.Kind == KindRebuildGraph && w.counters.GraphNodes != nil {
		if nodesBefore, err = w.counters.GraphNodes(jctx); err != nil {
			w.finish(j, StatusFailed, fmt.Sprintf("read graph node count: %v", err))
			return
		}
	}
	slog.Info("job_started",
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.Int("chunks_before", before))

	handler, ok := w.handlers[j.Kind]
	if !ok {
		w.finish(j, StatusFailed, fmt.Sprintf("no handler registered for kind %s", j.Kind))
		return
	}

	report := func(p Progress) {
		snap := j
		snap.Progress = &p
		if err := w.queue.append(snap); err != nil {
			slog.Warn("job_progress_append_failed",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()))
			return
		}
		j.Progress = &p
	}

	if err := handler(jctx, j, report); err != nil {
		if jctx.Err() != nil || errors.IsKind(err, errors.KindCancelled) {
			w.finish(j, StatusCancelled, "")
			return
		}
		w.finish(j, StatusFailed, err.Error())
		return
	}

	after, err := w.counters.Chunks(ctx)
	if err != nil {
		w.finish(j, StatusFailed, fmt.Sprintf("read chunk count: %v", err))
		return
	}
	j.ChunksAfter = after

	if diag := w.verify(ctx, j, before, after, nodesBefore); diag != "" {
		w.finish(j, StatusFailed, diag)
		return
	}
	w.finish(j, StatusDone, "")
}

// verify checks the per-kind postconditions and returns a diagnostic when
// the observed store state contradicts what the job claims to have done.
func (w *Worker) verify(ctx context.Context, j Job, before, after, nodesBefore int) string {
	switch j.Kind {
	case KindIndexPath, KindAddPath:
		removed := 0
		if j.Progress != nil {
			removed = j.Progress.FilesRemoved
		}
		// A non-force index may only shrink the store when it retired
		// files that were deleted from disk.
		if !j.Params.Force && removed == 0 && after < before {
			return fmt.Sprintf("chunk count decreased: expected at least %d, observed %d", before, after)
		}
	case KindReset:
		if after != 0 {
			return fmt.Sprintf("expected zero chunks after reset, observed %d", after)
		}
	case KindRebuildGraph:
		if w.counters.GraphNodes == nil {
			return ""
		}
		nodesAfter, err := w.counters.GraphNodes(ctx)
		if err != nil {
			return fmt.Sprintf("read graph node count: %v", err)
		}
		if nodesAfter == nodesBefore && nodesBefore != 0 {
			return fmt.Sprintf("graph node count unchanged at %d", nodesBefore)
		}
	}
	return ""
}

// finish appends the terminal transition.
func (w *Worker) finish(j Job, status Status, errMsg string) {
	now := nowUTC()
	j.Status = status
	j.FinishedAt = &now
	j.Error = errMsg

	if err := w.queue.append(j); err != nil {
		slog.Error("job_transition_failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()))
		return
	}

	switch status {
	case StatusDone:
		slog.Info("job_complete",
			slog.String("job_id", j.ID),
			slog.String("kind", string(j.Kind)),
			slog.Int("chunks_before", j.ChunksBefore),
			slog.Int("chunks_after", j.ChunksAfter))
	case StatusCancelled:
		slog.Info("job_cancelled", slog.String("job_id", j.ID))
	default:
		slog.Warn("job_failed",
			slog.String("job_id", j.ID),
			slog.String("kind", string(j.Kind)),
			slog.String("error", errMsg))
	}
}
