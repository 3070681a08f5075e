package provider

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Result is the outcome of one Gather branch.
type Result[T any] struct {
	Value T
	Err   error
}

// Gather runs every branch concurrently and waits for all of them. A failing
// branch does not cancel the others; results keep the branch order.
func Gather[T any](ctx context.Context, branches ...func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(branches))

	var wg sync.WaitGroup
	for i, branch := range branches {
		wg.Add(1)
		go func(i int, branch func(context.Context) (T, error)) {
			defer wg.Done()
			v, err := branch(ctx)
			results[i] = Result[T]{Value: v, Err: err}
		}(i, branch)
	}
	wg.Wait()

	return results
}

// Values returns the values of the successful results.
func Values[T any](results []Result[T]) []T {
	return lo.FilterMap(results, func(r Result[T], _ int) (T, bool) {
		return r.Value, r.Err == nil
	})
}
