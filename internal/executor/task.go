package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a submitted task
type Status string

// Possible task status values
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Common errors returned by the executor
var (
	// ErrShutDown is returned by Submit after Shutdown has been called.
	ErrShutDown = errors.New("executor is shut down")

	// ErrCanceled is the failure recorded for a task that was canceled
	// while still queued. Cancellation is best-effort: a task already
	// running cannot be stopped and runs to completion.
	ErrCanceled = errors.New("task canceled before execution")
)

// Fn is a unit of work. It receives a context carrying a task-scoped
// logger and returns a result value or an error. A panic inside Fn is
// captured and reported as a failure; it never crashes the pool.
type Fn func(ctx context.Context) (any, error)

// Result is the terminal outcome of a task. It is immutable once the task
// reaches a terminal state.
type Result struct {
	TaskID   uuid.UUID
	Name     string
	Status   Status
	Value    any
	Err      error
	Duration time.Duration

	// Pending is set by Wait when the timeout elapsed before this task
	// reached a terminal state. The task keeps running; only the waiting
	// stopped.
	Pending bool
}

// Handle identifies a submitted task and allows waiting on or canceling it.
// A handle is owned by the executor that created it until its result is
// consumed via Wait or Result, at which point the task leaves the
// active-task registry and becomes garbage-eligible.
type Handle struct {
	id          uuid.UUID
	name        string
	submittedAt time.Time

	exec     *Executor
	canceled atomic.Bool

	mu       sync.Mutex
	status   Status
	result   Result
	terminal bool
	done     chan struct{}
}

func newHandle(exec *Executor, name string) *Handle {
	return &Handle{
		id:          uuid.New(),
		name:        name,
		submittedAt: time.Now(),
		exec:        exec,
		status:      StatusQueued,
		done:        make(chan struct{}),
	}
}

// ID returns the task's process-unique identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Name returns the task's display name.
func (h *Handle) Name() string {
	return h.name
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the task's current lifecycle status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Cancel requests best-effort cancellation. A still-queued task is skipped
// by the workers and fails with ErrCanceled; a task that already started
// runs to completion. Cancel never releases resources held by running work.
func (h *Handle) Cancel() {
	h.canceled.Store(true)
}

// Result returns the terminal result and true once the task has finished.
// Consuming the result removes the task from the executor's active-task
// registry.
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	if !h.terminal {
		h.mu.Unlock()
		return Result{}, false
	}
	res := h.result
	h.mu.Unlock()

	h.exec.release(h.id)
	return res, true
}

// markRunning transitions the handle to running. Returns false if the
// handle is already terminal.
func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return false
	}
	h.status = StatusRunning
	return true
}

// complete records the terminal result exactly once.
func (h *Handle) complete(res Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}
	res.TaskID = h.id
	res.Name = h.name
	h.result = res
	h.status = res.Status
	h.terminal = true
	close(h.done)
}

// snapshot returns the terminal result without consuming it, or a pending
// placeholder when the task has not finished.
func (h *Handle) snapshot() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return h.result
	}
	return Result{
		TaskID:  h.id,
		Name:    h.name,
		Status:  h.status,
		Pending: true,
	}
}
