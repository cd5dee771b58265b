// Package backoff provides the retry delay policy for transient failures.
package backoff

import (
	"context"
	"time"
)

// Backoff doubles the delay on every attempt up to a configured cap. Not
// safe for concurrent use; each retry loop owns its own instance.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// New creates a backoff starting at base and capped at max.
func New(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base: base,
		max:  max,
	}
}

// Next returns the delay for the current attempt. The delay doubles per
// call until it reaches the cap and stays there.
func (b *Backoff) Next() time.Duration {
	delay := b.base << uint(b.attempt)
	if delay > b.max {
		delay = b.max
	} else {
		b.attempt++
	}
	return delay
}

// Reset restarts the sequence at the base delay. Call it after a success
// when the instance is reused.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Retry runs fn up to attempts times, sleeping the backoff delay between
// failures and honoring ctx for cancellation between tries. The last error
// is returned when every attempt fails.
func Retry(ctx context.Context, attempts int, b *Backoff, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(b.Next()):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
