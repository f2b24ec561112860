package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dthorne/ratchet/internal/metrics"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func newTestExecutor(t *testing.T, workers int) *Executor {
	t.Helper()
	e := New(
		Config{Workers: workers, QueueSize: 100},
		setupTestLogger(),
		metrics.New(prometheus.NewRegistry()),
	)
	t.Cleanup(func() { e.Shutdown(true) })
	return e
}

func TestSubmitAndWait(t *testing.T) {
	e := newTestExecutor(t, 2)

	h, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	}, "answer")
	require.NoError(t, err)
	require.NotNil(t, h)

	results := e.Wait([]*Handle{h}, 0)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 42, res.Value)
	assert.NoError(t, res.Err)
	assert.False(t, res.Pending)
	assert.Equal(t, "answer", res.Name)
}

func TestFailureIsCapturedNotPropagated(t *testing.T) {
	e := newTestExecutor(t, 2)

	boom := errors.New("boom")
	failing, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	}, "failing")
	require.NoError(t, err)

	sibling, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	}, "sibling")
	require.NoError(t, err)

	results := e.Wait([]*Handle{failing, sibling}, 0)

	assert.Equal(t, StatusFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, boom)

	// A sibling failure never affects other tasks or the pool itself.
	assert.Equal(t, StatusCompleted, results[1].Status)
	assert.Equal(t, "ok", results[1].Value)
}

func TestPanicIsCapturedAsFailure(t *testing.T) {
	e := newTestExecutor(t, 1)

	h, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		panic("kaboom")
	}, "panicking")
	require.NoError(t, err)

	results := e.Wait([]*Handle{h}, 0)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.ErrorContains(t, results[0].Err, "kaboom")

	// The worker survives and processes subsequent tasks.
	h2, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "alive", nil
	}, "after-panic")
	require.NoError(t, err)

	results = e.Wait([]*Handle{h2}, 0)
	assert.Equal(t, StatusCompleted, results[0].Status)
}

func TestWaitTimeoutReturnsPartialResults(t *testing.T) {
	e := newTestExecutor(t, 2)

	release := make(chan struct{})
	defer close(release)

	slow, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, "slow")
	require.NoError(t, err)

	fast, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "fast", nil
	}, "fast")
	require.NoError(t, err)

	// Make sure the fast task has finished before waiting.
	<-fast.Done()

	start := time.Now()
	results := e.Wait([]*Handle{slow, fast}, 10*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second, "timeout wait must return promptly")

	require.Len(t, results, 2)
	assert.True(t, results[0].Pending, "slow task should be flagged pending")
	assert.False(t, results[1].Pending)
	assert.Equal(t, "fast", results[1].Value)
}

func TestSubmitBatchPreservesOrder(t *testing.T) {
	e := newTestExecutor(t, 4)

	items := []any{1, 2, 3, 4, 5}
	handles, err := e.SubmitBatch(context.Background(),
		func(ctx context.Context, item any) (any, error) {
			return item.(int) * 10, nil
		}, items, "times-ten")
	require.NoError(t, err)
	require.Len(t, handles, len(items))

	results := e.Wait(handles, 0)
	for i, res := range results {
		assert.Equal(t, (i+1)*10, res.Value)
	}
}

func TestActiveTasksSnapshot(t *testing.T) {
	e := newTestExecutor(t, 1)

	release := make(chan struct{})
	h, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, "blocked")
	require.NoError(t, err)

	// The snapshot sees the task while it is queued or running.
	snapshot := e.ActiveTasks()
	require.Contains(t, snapshot, h.ID())
	assert.Equal(t, "blocked", snapshot[h.ID()].Name)
	assert.False(t, snapshot[h.ID()].Done)

	close(release)
	<-h.Done()

	snapshot = e.ActiveTasks()
	assert.True(t, snapshot[h.ID()].Done)

	// Consuming the result removes the entry.
	_, ok := h.Result()
	require.True(t, ok)
	assert.NotContains(t, e.ActiveTasks(), h.ID())
}

func TestCancelQueuedTask(t *testing.T) {
	e := newTestExecutor(t, 1)

	block := make(chan struct{})
	running, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	}, "occupier")
	require.NoError(t, err)

	queued, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "should not run", nil
	}, "victim")
	require.NoError(t, err)

	queued.Cancel()
	close(block)

	results := e.Wait([]*Handle{running, queued}, 0)
	assert.Equal(t, StatusCompleted, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, ErrCanceled)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	e := New(Config{Workers: 1, QueueSize: 10}, setupTestLogger(), nil)

	h, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, "before")
	require.NoError(t, err)

	e.Shutdown(true)

	// The accepted task ran to completion.
	res, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, res.Status)

	_, err = e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, "after")
	assert.ErrorIs(t, err, ErrShutDown)
}

func TestBoundedConcurrencyAndThroughput(t *testing.T) {
	const (
		taskCount = 20
		workers   = 4
		taskSleep = 20 * time.Millisecond
	)

	e := newTestExecutor(t, workers)

	var current, peak atomic.Int32
	handles := make([]*Handle, 0, taskCount)

	start := time.Now()
	for i := 0; i < taskCount; i++ {
		h, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(taskSleep)
			current.Add(-1)
			return nil, nil
		}, "cpu-bound")
		require.NoError(t, err)
		handles = append(handles, h)
	}

	results := e.Wait(handles, 0)
	elapsed := time.Since(start)

	for _, res := range results {
		assert.Equal(t, StatusCompleted, res.Status)
	}

	assert.LessOrEqual(t, peak.Load(), int32(workers),
		"concurrent task count must never exceed the pool size")

	sequential := time.Duration(taskCount) * taskSleep
	assert.Less(t, elapsed, sequential,
		"parallel wall time must beat the sequential sum")
}
