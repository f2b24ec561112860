package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dthorne/ratchet/internal/metrics"
	"github.com/dthorne/ratchet/internal/platform/logger"
)

// Config holds configuration for the executor's worker pool.
type Config struct {
	// Workers is the fixed number of worker goroutines. Zero or negative
	// derives the size from available parallelism plus a small constant.
	Workers int

	// QueueSize is the intake buffer size. Once full, Submit blocks until
	// a worker frees a slot; tasks are never silently dropped.
	QueueSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   0, // derived in New
		QueueSize: 100,
	}
}

// DefaultWorkers is the derived pool size used when Config.Workers is zero.
func DefaultWorkers() int {
	return runtime.NumCPU() + 4
}

// taskItem pairs a handle with the work it represents on the intake channel.
type taskItem struct {
	handle *Handle
	fn     Fn
}

// activeEntry tracks one task in the observability registry.
type activeEntry struct {
	name        string
	submittedAt time.Time
	startedAt   time.Time
	duration    time.Duration
	done        bool
}

// ActiveTask is one entry of the ActiveTasks snapshot.
type ActiveTask struct {
	Name    string
	Elapsed time.Duration
	Done    bool
}

// Executor owns a bounded pool of worker goroutines fed by a buffered
// intake channel. Work units are arbitrary functions; failures (errors or
// panics) are captured into the task's Result and never crash the pool or
// affect sibling tasks.
//
// An Executor is constructed explicitly and passed to its consumers;
// there is no package-level instance.
type Executor struct {
	workers   int
	tasks     chan *taskItem
	log       *slog.Logger
	collector *metrics.Collector

	// mu guards closed and the intake channel against a Submit racing a
	// Shutdown close.
	mu     sync.RWMutex
	closed bool

	// activeMu guards the active-task registry. It is never held across a
	// call into user-supplied work.
	activeMu sync.Mutex
	active   map[uuid.UUID]*activeEntry

	wg sync.WaitGroup
}

// New creates an Executor and starts its workers immediately. A nil log
// falls back to slog.Default(); a nil collector disables metrics reporting.
func New(cfg Config, log *slog.Logger, collector *metrics.Collector) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = slog.Default()
	}

	e := &Executor{
		workers:   workers,
		tasks:     make(chan *taskItem, queueSize),
		log:       log,
		collector: collector,
		active:    make(map[uuid.UUID]*activeEntry),
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	return e
}

// Workers returns the fixed pool size.
func (e *Executor) Workers() int {
	return e.workers
}

// Submit enqueues fn onto the pool and returns its handle. It blocks only
// until the intake buffer accepts the task (or ctx is done); it never
// blocks for the task itself. Returns ErrShutDown after Shutdown.
func (e *Executor) Submit(ctx context.Context, fn Fn, name string) (*Handle, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrShutDown
	}

	h := newHandle(e, name)
	e.register(h)

	select {
	case e.tasks <- &taskItem{handle: h, fn: fn}:
		e.mu.RUnlock()
		return h, nil
	case <-ctx.Done():
		e.mu.RUnlock()
		e.release(h.id)
		return nil, ctx.Err()
	}
}

// SubmitBatch submits one task per item, returning handles in the same
// order as items. Items share the given display name suffixed with their
// index.
func (e *Executor) SubmitBatch(
	ctx context.Context,
	fn func(ctx context.Context, item any) (any, error),
	items []any,
	name string,
) ([]*Handle, error) {
	handles := make([]*Handle, 0, len(items))
	for i, item := range items {
		item := item
		h, err := e.Submit(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx, item)
		}, fmt.Sprintf("%s[%d]", name, i))
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Wait blocks until every handle reaches a terminal state or the timeout
// elapses. A timeout of zero or less waits indefinitely. On timeout the
// returned slice still has one entry per handle: finished tasks carry
// their result, unfinished ones are flagged Pending and keep running.
// Results of finished tasks are consumed (removed from the registry).
// A timeout is not an error; the caller decides how to proceed.
func (e *Executor) Wait(handles []*Handle, timeout time.Duration) []Result {
	results := make([]Result, len(handles))

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	expired := false
	for i, h := range handles {
		if h == nil {
			continue
		}

		if expired {
			// Budget already spent; take whatever is terminal right now.
			select {
			case <-h.done:
				results[i] = h.snapshot()
				e.release(h.id)
			default:
				results[i] = h.snapshot()
			}
			continue
		}

		if deadline == nil {
			<-h.done
			results[i] = h.snapshot()
			e.release(h.id)
			continue
		}

		select {
		case <-h.done:
			results[i] = h.snapshot()
			e.release(h.id)
		case <-deadline:
			expired = true
			select {
			case <-h.done:
				results[i] = h.snapshot()
				e.release(h.id)
			default:
				results[i] = h.snapshot()
			}
		}
	}

	return results
}

// ActiveTasks returns a snapshot of the task registry for observability.
// It copies under the registry lock and never pauses the pool.
func (e *Executor) ActiveTasks() map[uuid.UUID]ActiveTask {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	snapshot := make(map[uuid.UUID]ActiveTask, len(e.active))
	for id, entry := range e.active {
		at := ActiveTask{Name: entry.name, Done: entry.done}
		switch {
		case entry.done:
			at.Elapsed = entry.duration
		case !entry.startedAt.IsZero():
			at.Elapsed = time.Since(entry.startedAt)
		}
		snapshot[id] = at
	}
	return snapshot
}

// Shutdown stops accepting new work. With wait true it blocks until all
// accepted tasks have finished; otherwise it returns immediately while
// in-flight and queued tasks continue until completion or process exit.
func (e *Executor) Shutdown(wait bool) {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()

	if wait {
		e.wg.Wait()
	}
}

// register adds a freshly submitted task to the registry.
func (e *Executor) register(h *Handle) {
	e.activeMu.Lock()
	e.active[h.id] = &activeEntry{name: h.name, submittedAt: h.submittedAt}
	e.activeMu.Unlock()
}

// release removes a task whose result has been consumed.
func (e *Executor) release(id uuid.UUID) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

// worker pulls tasks from the intake channel until it closes.
func (e *Executor) worker(id int) {
	defer e.wg.Done()

	e.log.Debug("starting worker", "worker_id", id)
	for item := range e.tasks {
		e.runTask(item, id)
	}
	e.log.Debug("stopping worker", "worker_id", id)
}

// runTask executes a single task, capturing errors and panics into its
// result. The registry lock is never held while fn runs.
func (e *Executor) runTask(item *taskItem, workerID int) {
	h := item.handle

	if h.canceled.Load() {
		h.complete(Result{Status: StatusFailed, Err: ErrCanceled})
		e.markDone(h.id, 0)
		return
	}

	if !h.markRunning() {
		return
	}

	start := time.Now()
	e.markStarted(h.id, start)
	if e.collector != nil {
		e.collector.WorkerStarted()
	}

	log := e.log.With("task_id", h.id, "task_name", h.name, "worker_id", workerID)
	ctx := logger.WithLogger(context.Background(), log)

	value, err := e.runGuarded(ctx, item.fn, log)
	elapsed := time.Since(start)

	if e.collector != nil {
		e.collector.TaskFinished(elapsed, err != nil)
	}

	if err != nil {
		log.Error("task execution failed", "error", err, "duration", elapsed)
		h.complete(Result{Status: StatusFailed, Err: err, Duration: elapsed})
	} else {
		log.Debug("task completed", "duration", elapsed)
		h.complete(Result{Status: StatusCompleted, Value: value, Duration: elapsed})
	}
	e.markDone(h.id, elapsed)
}

// runGuarded invokes fn with panic recovery so a panicking task is
// reported as a failure instead of crashing the worker.
func (e *Executor) runGuarded(ctx context.Context, fn Fn, log *slog.Logger) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("task panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

func (e *Executor) markStarted(id uuid.UUID, at time.Time) {
	e.activeMu.Lock()
	if entry, ok := e.active[id]; ok {
		entry.startedAt = at
	}
	e.activeMu.Unlock()
}

func (e *Executor) markDone(id uuid.UUID, d time.Duration) {
	e.activeMu.Lock()
	if entry, ok := e.active[id]; ok {
		entry.done = true
		entry.duration = d
	}
	e.activeMu.Unlock()
}
