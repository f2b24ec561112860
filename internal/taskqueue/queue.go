package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dthorne/ratchet/internal/metrics"
	"github.com/dthorne/ratchet/internal/platform/logger"
)

// JobStatus represents the current state of a background job
type JobStatus string

// Possible job status values. Transitions are Queued -> Running ->
// {Completed | Failed}; nothing moves out of a terminal state.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Common errors returned by the queue
var (
	// ErrQueueStopped is returned by Submit between Stop and the next
	// Start. Submissions while stopped are rejected, not buffered.
	ErrQueueStopped = errors.New("task queue is stopped")

	// ErrQueueFull is returned when the intake buffer has no room.
	// Submission never blocks past buffer acceptance.
	ErrQueueFull = errors.New("task queue is full")

	// ErrDuplicateTaskID is returned when a caller-chosen task ID is
	// already tracked.
	ErrDuplicateTaskID = errors.New("task id already in use")
)

// JobFn is the unit of background work.
type JobFn func(ctx context.Context) (any, error)

// JobResult is the pollable outcome of a submitted job.
type JobResult struct {
	Status JobStatus `json:"status"`
	Value  any       `json:"value,omitempty"`
	Error  string    `json:"error,omitempty"`

	// FinishedAt is set when the job reaches a terminal state; the
	// eviction janitor uses it when a result TTL is configured.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Config holds configuration for the background queue.
type Config struct {
	// Workers is the number of daemon worker goroutines.
	Workers int

	// QueueSize is the intake buffer size.
	QueueSize int

	// ResultTTL evicts terminal results this long after completion.
	// Zero retains results until Discard is called. Retention without a
	// TTL grows without bound by design of the polling contract; callers
	// that never poll should set a TTL or discard explicitly.
	ResultTTL time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 256,
		ResultTTL: 0,
	}
}

// job is one queued unit. A nil job is the shutdown sentinel; Stop pushes
// exactly one per worker.
type job struct {
	id string
	fn JobFn
}

// Queue is a longer-lived, queue-backed worker pool for fire-and-forget
// background jobs. Submit returns immediately with a task ID; the result
// is polled later via GetResult/GetStatus rather than awaited.
//
// The Queue is distinct from the executor pool so detached background work
// cannot starve synchronous fan-out calls.
type Queue struct {
	cfg       Config
	log       *slog.Logger
	collector *metrics.Collector

	// mu guards running, jobs channel identity, and the results map.
	// It is never held across a call into user-supplied work.
	mu      sync.Mutex
	running bool
	jobs    chan *job
	results map[string]*JobResult
	wg      sync.WaitGroup

	janitorStop chan struct{}
}

// New creates a stopped Queue. The first Submit (or an explicit Start)
// spins up the workers.
func New(cfg Config, log *slog.Logger, collector *metrics.Collector) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = slog.Default()
	}

	return &Queue{
		cfg:       cfg,
		log:       log,
		collector: collector,
		results:   make(map[string]*JobResult),
	}
}

// Start spins up the worker goroutines. Calling Start while the queue is
// already running is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.startLocked()
}

func (q *Queue) startLocked() {
	if q.running {
		return
	}

	q.jobs = make(chan *job, q.cfg.QueueSize)
	q.running = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.jobs)
	}

	if q.cfg.ResultTTL > 0 {
		q.janitorStop = make(chan struct{})
		go q.janitor(q.janitorStop)
	}

	q.log.Info("task queue started",
		"workers", q.cfg.Workers,
		"queue_size", q.cfg.QueueSize,
		"result_ttl", q.cfg.ResultTTL)
}

// Stop signals every worker to finish its current item and exit, then
// joins them. Results remain pollable after Stop. Submissions between
// Stop and the next Start are rejected with ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	jobs := q.jobs
	if q.janitorStop != nil {
		close(q.janitorStop)
		q.janitorStop = nil
	}
	q.mu.Unlock()

	// One sentinel per worker; each worker consumes exactly one and exits.
	for i := 0; i < q.cfg.Workers; i++ {
		jobs <- nil
	}
	q.wg.Wait()

	q.log.Info("task queue stopped")
}

// Submit enqueues fn for background execution and returns its task ID.
// The queue auto-starts if it has never been started; the job is marked
// Queued before Submit returns. Submit never blocks longer than intake
// acceptance: a full buffer returns ErrQueueFull immediately.
//
// taskID is optional; empty means a generated UUID. A duplicate ID is
// rejected so an old result is never silently overwritten.
func (q *Queue) Submit(fn JobFn, taskID string) (string, error) {
	if taskID == "" {
		taskID = uuid.New().String()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		if q.jobs != nil {
			// Previously started and explicitly stopped: reject.
			return "", ErrQueueStopped
		}
		q.startLocked()
	}

	if _, exists := q.results[taskID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTaskID, taskID)
	}

	select {
	case q.jobs <- &job{id: taskID, fn: fn}:
		q.results[taskID] = &JobResult{Status: JobStatusQueued}
		if q.collector != nil {
			q.collector.SetQueueDepth(len(q.jobs))
		}
		return taskID, nil
	default:
		return "", fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// GetResult returns the job's status plus its value or error description.
// The second return is false when the task ID is unknown (never submitted,
// discarded, or evicted by the result TTL).
func (q *Queue) GetResult(taskID string) (JobResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, ok := q.results[taskID]
	if !ok {
		return JobResult{}, false
	}
	return *res, true
}

// GetStatus returns just the job's lifecycle status.
func (q *Queue) GetStatus(taskID string) (JobStatus, bool) {
	res, ok := q.GetResult(taskID)
	return res.Status, ok
}

// Discard drops a tracked result, making the ID reusable and the result
// garbage-eligible.
func (q *Queue) Discard(taskID string) {
	q.mu.Lock()
	delete(q.results, taskID)
	q.mu.Unlock()
}

// Len reports how many results are currently retained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

// worker pulls jobs until it receives the shutdown sentinel. A panic in
// the harness itself (not inside the job) is logged and the loop
// continues, so pool capacity never silently shrinks.
func (q *Queue) worker(id int, jobs <-chan *job) {
	defer q.wg.Done()

	log := q.log.With("queue_worker_id", id)
	log.Debug("queue worker started")

	for j := range jobs {
		if j == nil {
			log.Debug("queue worker received stop sentinel")
			return
		}
		q.runJob(j, len(jobs), log)
	}
}

// runJob executes one job, recording the outcome under its task ID.
func (q *Queue) runJob(j *job, backlog int, log *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			// Harness failure, not job failure: keep the worker alive.
			log.Error("queue worker harness panicked",
				"panic", rec,
				"task_id", j.id,
				"stack", string(debug.Stack()))
		}
	}()

	q.setStatus(j.id, JobStatusRunning)
	if q.collector != nil {
		q.collector.WorkerStarted()
		q.collector.SetQueueDepth(backlog)
	}

	jobLog := log.With("task_id", j.id)
	ctx := logger.WithLogger(context.Background(), jobLog)

	start := time.Now()
	value, err := runJobGuarded(ctx, j.fn)
	elapsed := time.Since(start)

	if q.collector != nil {
		q.collector.TaskFinished(elapsed, err != nil)
	}

	q.mu.Lock()
	res, ok := q.results[j.id]
	if ok {
		res.FinishedAt = time.Now()
		if err != nil {
			res.Status = JobStatusFailed
			res.Error = err.Error()
		} else {
			res.Status = JobStatusCompleted
			res.Value = value
		}
	}
	q.mu.Unlock()

	if err != nil {
		jobLog.Error("background job failed", "error", err, "duration", elapsed)
	} else {
		jobLog.Debug("background job completed", "duration", elapsed)
	}
}

// runJobGuarded turns a panicking job into a Failed result.
func runJobGuarded(ctx context.Context, fn JobFn) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

func (q *Queue) setStatus(taskID string, status JobStatus) {
	q.mu.Lock()
	if res, ok := q.results[taskID]; ok {
		res.Status = status
	}
	q.mu.Unlock()
}

// janitor evicts terminal results older than the configured TTL. It polls
// on a short interval so Stop remains responsive.
func (q *Queue) janitor(stop <-chan struct{}) {
	interval := q.cfg.ResultTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-q.cfg.ResultTTL)

			q.mu.Lock()
			for id, res := range q.results {
				terminal := res.Status == JobStatusCompleted || res.Status == JobStatusFailed
				if terminal && !res.FinishedAt.IsZero() && res.FinishedAt.Before(cutoff) {
					delete(q.results, id)
				}
			}
			q.mu.Unlock()
		}
	}
}
