package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidBatchSize is returned when BatchProcess is called with a
// non-positive batch size.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// BatchProcess splits items into consecutive chunks of batchSize (the last
// chunk may be shorter), runs fn once per chunk with the chunks themselves
// processed in parallel, and returns the flattened per-item results in the
// original order.
//
// The chunk boundary exists to amortize fixed per-call overhead (one DB
// round-trip per chunk, one bulk API call per chunk); it never changes
// correctness: output length always equals input length, and a failing
// chunk contributes its error at each of its item positions instead of
// aborting sibling chunks.
func BatchProcess[T, R any](
	ctx context.Context,
	fn func(ctx context.Context, chunk []T) ([]R, error),
	items []T,
	batchSize int,
	opts Options,
) ([]MapResult[R], error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	chunks := Chunk(items, batchSize)

	chunkResults := ParallelMap(ctx, fn, chunks, opts)

	flattened := make([]MapResult[R], 0, len(items))
	for i, chunkRes := range chunkResults {
		chunkLen := len(chunks[i])

		if chunkRes.Err != nil {
			for j := 0; j < chunkLen; j++ {
				flattened = append(flattened, MapResult[R]{Err: chunkRes.Err})
			}
			continue
		}

		if len(chunkRes.Value) != chunkLen {
			// fn broke its contract; surface that per item rather than
			// misaligning every position after this chunk.
			err := fmt.Errorf("chunk %d returned %d results for %d items",
				i, len(chunkRes.Value), chunkLen)
			for j := 0; j < chunkLen; j++ {
				flattened = append(flattened, MapResult[R]{Err: err})
			}
			continue
		}

		for _, value := range chunkRes.Value {
			flattened = append(flattened, MapResult[R]{Value: value})
		}
	}

	return flattened, nil
}

// Chunk splits items into consecutive slices of at most size elements.
// The returned slices share the input's backing array.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
