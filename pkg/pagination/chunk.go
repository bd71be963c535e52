package pagination

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// MaxChunkSize is the platform's hard per-call batch ceiling.
const MaxChunkSize = 100

// ChunkError reports which chunk of a sequential batch failed. Chunks before
// Index were applied and are not rolled back; chunks after it never ran.
type ChunkError struct {
	// Index is the zero-based position of the failing chunk.
	Index int

	// Total is the number of chunks the batch was split into.
	Total int

	// Completed is the number of elements in the chunks that succeeded.
	Completed int

	Err error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d/%d failed after %d elements applied: %v",
		e.Index+1, e.Total, e.Completed, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Chunk splits items into ordered sub-slices of at most size elements. A size
// outside 1..MaxChunkSize is treated as MaxChunkSize. The sub-slices share the
// backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || size > MaxChunkSize {
		size = MaxChunkSize
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// forEachChunk runs fn over the chunks of items one after the other and stops
// at the first failure.
func forEachChunk[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, index int, chunk []T) error) error {
	chunks := Chunk(items, size)
	completed := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return &ChunkError{Index: i, Total: len(chunks), Completed: completed, Err: err}
		}

		if err := fn(ctx, i, chunk); err != nil {
			log.Warn().
				Err(err).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Int("completed", completed).
				Msg("Chunk failed, aborting remaining chunks")
			return &ChunkError{Index: i, Total: len(chunks), Completed: completed, Err: err}
		}
		completed += len(chunk)

		log.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("size", len(chunk)).
			Msg("Chunk applied")
	}
	return nil
}

// ConcatChunks sends items in chunks and concatenates what each chunk returns,
// preserving chunk order. On failure nothing is returned.
func ConcatChunks[T, R any](ctx context.Context, items []T, size int, fn func(ctx context.Context, chunk []T) ([]R, error)) ([]R, error) {
	out := make([]R, 0, len(items))
	err := forEachChunk(ctx, items, size, func(ctx context.Context, _ int, chunk []T) error {
		res, err := fn(ctx, chunk)
		if err != nil {
			return err
		}
		out = append(out, res...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CollectChunks sends items in chunks and keeps one result per chunk. On
// failure nothing is returned.
func CollectChunks[T, R any](ctx context.Context, items []T, size int, fn func(ctx context.Context, chunk []T) (R, error)) ([]R, error) {
	out := make([]R, 0, len(Chunk(items, size)))
	err := forEachChunk(ctx, items, size, func(ctx context.Context, _ int, chunk []T) error {
		res, err := fn(ctx, chunk)
		if err != nil {
			return err
		}
		out = append(out, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
