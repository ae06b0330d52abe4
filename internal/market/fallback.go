package market

import (
	"context"
	"time"
)

// WithFallback runs fn with a deadline of d and returns fallback if fn fails
// or does not finish in time. fn keeps running in the background after a
// timeout until it observes its context.
func WithFallback[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), fallback T) T {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fallback
		}
		return r.v
	case <-ctx.Done():
		return fallback
	}
}
