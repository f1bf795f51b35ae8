package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SendFunc delivers the broadcast message to a single rank.
type SendFunc func(ctx context.Context, rank int) error

// Result represents the result of a broadcast.
type Result struct {
	Success bool
	Acks    int
	Targets int
	Errors  []error
}

// Err returns the delivery failures joined into one error, or nil.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if len(r.Errors) == 0 {
		return fmt.Errorf("broadcast incomplete: acks=%d targets=%d", r.Acks, r.Targets)
	}
	return fmt.Errorf("broadcast incomplete: acks=%d targets=%d: %w", r.Acks, r.Targets, errors.Join(r.Errors...))
}

// All sends to every rank in parallel and waits until each send returned
// or ctx is done. Ranks must be distinct.
func All(ctx context.Context, ranks []int, sendFn SendFunc) Result {
	if len(ranks) == 0 {
		return Result{Success: true}
	}

	var (
		mu   sync.Mutex
		acks int
		errs []error
		wg   sync.WaitGroup
	)

	for _, rank := range ranks {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()

			err := sendFn(ctx, r)
			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				acks++
			} else {
				errs = append(errs, fmt.Errorf("rank %d: %w", r, err))
			}
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return Result{
			Success: false,
			Acks:    acks,
			Targets: len(ranks),
			Errors:  append(append([]error(nil), errs...), ctx.Err()),
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return Result{
		Success: acks == len(ranks),
		Acks:    acks,
		Targets: len(ranks),
		Errors:  errs,
	}
}

// Range returns the ranks lo..hi-1.
func Range(lo, hi int) []int {
	if hi <= lo {
		return nil
	}
	ranks := make([]int, 0, hi-lo)
	for r := lo; r < hi; r++ {
		ranks = append(ranks, r)
	}
	return ranks
}
