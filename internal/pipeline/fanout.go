package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one fanned-out item.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Fan runs fn over items with at most limit calls in flight and returns the
// outcomes in input order. A failing item never cancels its siblings; items
// not yet started when ctx is done report ctx.Err().
func Fan[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) []Outcome[R] {
	outcomes := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return outcomes
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				outcomes[j].Err = err
			}
			break
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			value, err := fn(ctx, item)
			outcomes[i] = Outcome[R]{Value: value, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
