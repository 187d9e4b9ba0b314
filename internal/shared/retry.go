package shared

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryOnConflict runs fn until it succeeds, fails with an error other than
// ErrConcurrentModification, or attempts are exhausted.
func RetryOnConflict(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

func backoff(attempt int) time.Duration {
	base := 10 * time.Millisecond
	jitter := time.Duration(rand.Int64N(int64(5 * time.Millisecond)))
	return time.Duration(attempt*attempt)*base + jitter
}
