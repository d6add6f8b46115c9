package concurrent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ItemError ties a failure to the index of the item that produced it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ForEachWithLimit runs fn for every item with at most limit calls in flight.
// Every item is attempted; failures are joined into the returned error.
func ForEachWithLimit[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	_, err := MapWithLimit(ctx, items, limit, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}

// MapWithLimit applies fn to each item with at most limit calls in flight.
// Results keep the order of items. Items not started before ctx is done
// report ctx.Err().
func MapWithLimit[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var all []error
	for i, err := range errs {
		if err != nil {
			all = append(all, &ItemError{Index: i, Err: err})
		}
	}
	if len(all) > 0 {
		return results, errors.Join(all...)
	}
	return results, nil
}

// Collector gathers results from independent concurrent operations.
type Collector[T any] struct {
	mu      sync.Mutex
	results []T
	errs    []error
	wg      sync.WaitGroup
}

// NewCollector creates a new Collector
func NewCollector[T any]() *Collector[T] {
	return &Collector[T]{}
}

// Go runs fn in a goroutine and collects its result
func (c *Collector[T]) Go(fn func() (T, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result, err := fn()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.errs = append(c.errs, err)
		} else {
			c.results = append(c.results, result)
		}
	}()
}

// Wait waits for all operations to complete and returns results and errors
func (c *Collector[T]) Wait() ([]T, error) {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errs) > 0 {
		return c.results, errors.Join(c.errs...)
	}
	return c.results, nil
}
