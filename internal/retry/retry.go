// Package retry runs an operation a bounded number of times with jittered backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/grafana/dskit/backoff"
)

type Config struct {
	// Attempts is the total number of calls, including the first.
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Permanent reports errors that must be returned without another attempt.
	Permanent func(error) bool
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, fails permanently, exhausts cfg.Attempts or
// ctx is done. It returns the number of attempts made and the last error.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) (int, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: cfg.MinBackoff,
		MaxBackoff: cfg.MaxBackoff,
		MaxRetries: attempts,
	})

	var last error
	for b.Ongoing() {
		attempt := b.NumRetries() + 1
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		last = err
		if cfg.Permanent != nil && cfg.Permanent(err) {
			return attempt, err
		}
		if attempt >= attempts {
			return attempt, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		b.Wait()
	}

	// ctx ended before or between attempts
	if last == nil {
		return b.NumRetries(), b.Err()
	}
	return b.NumRetries(), fmt.Errorf("%w (last error: %v)", b.Err(), last)
}
