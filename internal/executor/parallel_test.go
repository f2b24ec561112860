package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelMapPreservesOrderAndLength(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}

	results := ParallelMap(context.Background(),
		func(ctx context.Context, n int) (string, error) {
			// Finish in scrambled order on purpose.
			time.Sleep(time.Duration(n) * time.Millisecond)
			return fmt.Sprintf("item-%d", n), nil
		}, items, Options{})

	require.Len(t, results, len(items))
	for i, n := range items {
		assert.NoError(t, results[i].Err)
		assert.Equal(t, fmt.Sprintf("item-%d", n), results[i].Value)
	}
}

func TestParallelMapEmptyInput(t *testing.T) {
	results := ParallelMap(context.Background(),
		func(ctx context.Context, n int) (int, error) { return n, nil },
		nil, Options{})

	assert.Empty(t, results)
}

func TestParallelMapPartialFailure(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5}
	odd := errors.New("odd number rejected")

	results := ParallelMap(context.Background(),
		func(ctx context.Context, n int) (int, error) {
			if n%2 == 1 {
				return 0, odd
			}
			return n * n, nil
		}, items, Options{})

	require.Len(t, results, len(items))
	for i, n := range items {
		if n%2 == 1 {
			assert.ErrorIs(t, results[i].Err, odd, "index %d", i)
		} else {
			assert.NoError(t, results[i].Err, "index %d", i)
			assert.Equal(t, n*n, results[i].Value, "index %d", i)
		}
	}
}

func TestParallelMapPanicBecomesError(t *testing.T) {
	results := ParallelMap(context.Background(),
		func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				panic("bad item")
			}
			return n, nil
		}, []int{1, 2, 3}, Options{})

	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "bad item")
	assert.NoError(t, results[2].Err)
}

func TestParallelMapRespectsMaxWorkers(t *testing.T) {
	var current, peak atomic.Int32

	ParallelMap(context.Background(),
		func(ctx context.Context, n int) (int, error) {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return n, nil
		}, make([]int, 16), Options{MaxWorkers: 3})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestParallelMapTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	results := ParallelMap(context.Background(),
		func(ctx context.Context, n int) (int, error) {
			if n == 1 {
				<-release
			}
			return n, nil
		}, []int{0, 1}, Options{Timeout: 20 * time.Millisecond, MaxWorkers: 2})

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrMapTimeout)
}

func TestParallelMapWithProgress(t *testing.T) {
	const total = 10

	var ticks []int // callback is serialized, no lock needed
	results := ParallelMapWithProgress(context.Background(),
		func(ctx context.Context, n int) (int, error) {
			return n, nil
		}, make([]int, total),
		func(completed, totalItems int) {
			assert.Equal(t, total, totalItems)
			ticks = append(ticks, completed)
		}, Options{MaxWorkers: 4})

	require.Len(t, results, total)
	require.Len(t, ticks, total)
	for i, tick := range ticks {
		assert.Equal(t, i+1, tick, "completed count must be monotonically increasing")
	}
}

func TestParallelMapWithProgressPanickingItem(t *testing.T) {
	// A panicking item must still tick the progress reporter; the call
	// must return with the panic captured as that item's error.
	done := make(chan []MapResult[int])
	var ticks atomic.Int32

	go func() {
		done <- ParallelMapWithProgress(context.Background(),
			func(ctx context.Context, n int) (int, error) {
				if n == 1 {
					panic("bad item")
				}
				return n, nil
			}, []int{0, 1, 2},
			func(completed, total int) {
				ticks.Add(1)
			}, Options{MaxWorkers: 2})
	}()

	var results []MapResult[int]
	select {
	case results = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not return after a panicking item")
	}

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "bad item")
	assert.NoError(t, results[2].Err)
	assert.Equal(t, int32(3), ticks.Load())
}
