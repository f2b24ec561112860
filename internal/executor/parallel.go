package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dthorne/ratchet/internal/metrics"
)

// ErrMapTimeout is the per-item sentinel recorded when ParallelMap's
// timeout elapsed before that item finished. The item's work keeps
// running; only the mapping stopped waiting for it.
var ErrMapTimeout = errors.New("timed out waiting for item")

// MapResult is the per-item outcome of a ParallelMap call. A failing item
// carries its error at its original position instead of shrinking the
// output or aborting sibling items.
type MapResult[R any] struct {
	Value R
	Err   error
}

// Options tunes a single ParallelMap or BatchProcess call.
type Options struct {
	// MaxWorkers bounds the call's concurrency. Zero or negative means
	// min(len(items), DefaultWorkers()).
	MaxWorkers int

	// Timeout bounds the whole call. Zero or negative waits indefinitely.
	Timeout time.Duration

	// Logger and Collector are propagated to the ephemeral pool the call
	// runs on. Both may be nil.
	Logger    *slog.Logger
	Collector *metrics.Collector
}

// ParallelMap applies fn to every item with bounded concurrency and
// returns one result per item, positionally matched: result[i] corresponds
// to items[i] regardless of completion order or partial failure. An empty
// input returns an empty output without spinning up workers.
//
// Completion order between items is unspecified; only the final positional
// mapping is guaranteed.
func ParallelMap[T, R any](
	ctx context.Context,
	fn func(ctx context.Context, item T) (R, error),
	items []T,
	opts Options,
) []MapResult[R] {
	return parallelMap(ctx, fn, items, nil, opts)
}

// ParallelMapWithProgress is ParallelMap plus a callback invoked after
// each individual completion with (completed, total). The callback is
// invoked from a single collector goroutine, so it is serialized and may
// touch shared state without extra locking.
func ParallelMapWithProgress[T, R any](
	ctx context.Context,
	fn func(ctx context.Context, item T) (R, error),
	items []T,
	progress func(completed, total int),
	opts Options,
) []MapResult[R] {
	return parallelMap(ctx, fn, items, progress, opts)
}

func parallelMap[T, R any](
	ctx context.Context,
	fn func(ctx context.Context, item T) (R, error),
	items []T,
	progress func(completed, total int),
	opts Options,
) []MapResult[R] {
	results := make([]MapResult[R], len(items))
	if len(items) == 0 {
		return results
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if workers > len(items) {
		workers = len(items)
	}

	// Each call gets its own short-lived pool so one map cannot starve
	// another and the concurrency bound is exactly per-call.
	pool := New(Config{Workers: workers, QueueSize: len(items)}, opts.Logger, opts.Collector)
	defer pool.Shutdown(false)

	// Buffered so a finishing item never blocks on the progress reporter.
	var completions chan struct{}
	if progress != nil {
		completions = make(chan struct{}, len(items))
	}

	handles := make([]*Handle, len(items))
	for i, item := range items {
		item := item
		h, err := pool.Submit(ctx, func(ctx context.Context) (any, error) {
			if completions != nil {
				// Deferred so a panicking item still ticks; otherwise the
				// reporter would wait for a send that never comes.
				defer func() { completions <- struct{}{} }()
			}
			value, err := fn(ctx, item)
			if err != nil {
				return nil, err
			}
			return value, nil
		}, "parallel-map")
		if err != nil {
			results[i] = MapResult[R]{Err: err}
			continue
		}
		handles[i] = h
	}

	// One goroutine serializes the caller's progress callback. It counts
	// exactly the submitted items, so stragglers past a timeout still get
	// reported and the goroutine always terminates.
	var progressDone chan struct{}
	if progress != nil {
		submitted := 0
		for _, h := range handles {
			if h != nil {
				submitted++
			}
		}
		total := len(items)
		progressDone = make(chan struct{})
		go func() {
			defer close(progressDone)
			for completed := 1; completed <= submitted; completed++ {
				<-completions
				progress(completed, total)
			}
		}()
	}

	waited := pool.Wait(handles, opts.Timeout)

	anyPending := false
	for i, res := range waited {
		if handles[i] == nil {
			continue // submission failed, error already recorded
		}
		switch {
		case res.Pending:
			anyPending = true
			results[i] = MapResult[R]{Err: ErrMapTimeout}
		case res.Err != nil:
			results[i] = MapResult[R]{Err: res.Err}
		default:
			if value, ok := res.Value.(R); ok {
				results[i] = MapResult[R]{Value: value}
			}
		}
	}

	// Without pending stragglers every completion has been sent, so the
	// reporter finishing here means the caller saw every tick.
	if progressDone != nil && !anyPending {
		<-progressDone
	}

	return results
}
