package orders

import (
	"context"
	"errors"
	"time"
)

// RetryConfig bounds the retries of a transition that lost a version race.
type RetryConfig struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:   5,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2,
	}
}

// retryOnStale runs fn until it returns anything other than ErrStaleWrite or
// the attempts are spent. The last ErrStaleWrite is returned in that case.
func retryOnStale(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	backoff := cfg.BaseDelay

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrStaleWrite) {
			return err
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
	}
	return err
}
