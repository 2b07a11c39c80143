// Package worker fans independent items out to a fixed number of goroutines.
package worker

import (
	"context"
	"sync"
)

// Map calls fn for each item on at most workers goroutines and returns the
// outputs in input order. Once ctx is done no further items are started, and
// Map returns ctx.Err() after the running calls finish.
func Map[In, Out any](ctx context.Context, workers int, items []In, fn func(ctx context.Context, i int, item In) Out) ([]Out, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	out := make([]Out, len(items))
	next := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				out[i] = fn(ctx, i, items[i])
			}
		}()
	}

feed:
	for i := range items {
		select {
		case <-ctx.Done():
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
