package interview

import (
	"context"
	"fmt"
	"time"
)

// Retrier runs an operation against successive models from a registry.
type Retrier struct {
	Models      ModelRegistry
	MaxAttempts int
	BaseDelay   time.Duration
	// Offset shifts model selection, so attempt 0 uses Models.Select(Offset).
	Offset int
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after every qualifying failure.
	OnRetry func(attempt int, model string, err error)
}

// ExhaustedError is returned when every attempt failed in a retryable way.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("interview: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay returns the wait after the given failed attempt. It grows linearly
// with the attempt index: base, 2*base, 3*base, ...
func (r Retrier) Delay(attempt int) time.Duration {
	return r.BaseDelay * time.Duration(attempt+1)
}

// Retry calls op until it returns a non-empty result, a permanent error, or
// MaxAttempts qualifying failures have occurred. A qualifying failure is a
// transient error or a result for which empty reports true. Errors from op
// must already be classified; unclassified errors are treated as permanent.
// It returns the result and the number of attempts made.
func Retry[T any](ctx context.Context, r Retrier, op func(ctx context.Context, attempt int, model string) (T, error), empty func(T) bool) (T, int, error) {
	var zero T
	limit := r.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 0; attempt < limit; attempt++ {
		model := r.Models.Select(r.Offset + attempt)
		res, err := op(ctx, attempt, model)
		if err == nil && (empty == nil || !empty(res)) {
			return res, attempt + 1, nil
		}
		if err == nil {
			err = &Error{Kind: KindEmptyResponse, Err: fmt.Errorf("model %s returned no usable content", model)}
		}
		if !Retryable(err) {
			return zero, attempt + 1, err
		}
		last = err
		if r.OnRetry != nil {
			r.OnRetry(attempt, model, err)
		}
		if attempt == limit-1 {
			break
		}
		if serr := sleep(ctx, r.Delay(attempt)); serr != nil {
			return zero, attempt + 1, &ExhaustedError{Attempts: attempt + 1, Last: &Error{Kind: KindTransient, Err: serr}}
		}
	}
	return zero, limit, &ExhaustedError{Attempts: limit, Last: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
