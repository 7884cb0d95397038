package pastis

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker count used when a run does not set one.
func DefaultWorkers() int { return runtime.NumCPU() }

// ParallelFor executes fn over [0, n) split into contiguous chunks, one
// goroutine per chunk.
func ParallelFor(n, workers, minChunk int, fn func(start, end int)) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if minChunk < 1 {
		minChunk = 1
	}
	if n <= minChunk || workers <= 1 {
		fn(0, n)
		return
	}

	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// forEachMode runs fn for every mode in [0, n) on at most workers
// goroutines. The first error cancels the context handed to the remaining
// calls and is the error returned. A cancelled ctx is reported even when
// every launched call succeeded.
func forEachMode(ctx context.Context, n, workers int, fn func(ctx context.Context, mode int) error) error {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for mode := 0; mode < n; mode++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, mode)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// modes skipped after cancellation leave no error behind
	return ctx.Err()
}
