// Package retry provides exponential-backoff retry logic for operations
// against the B2 remote, driven by the structured error kinds in pkg/errors
// rather than a fixed per-call sleep.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts  int           // including the initial attempt
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// OnRetry, if set, is called before each wait between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig mirrors the b2api.Config default of 3 retries with a
// capped exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Retryer runs an operation with exponential backoff between attempts,
// retrying only errors pkg/errors.Retryable classifies as RemoteTransient.
type Retryer struct {
	config Config
}

// New builds a Retryer, applying defaults to zero-valued fields.
func New(config Config) *Retryer {
	return &Retryer{config: config.withDefaults()}
}

// Do runs fn, retrying on a transient remote error up to MaxAttempts times.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !b2err.Retryable(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, r.config.MaxAttempts, lastErr)
}

// delayFor returns the exponential-backoff delay before the attempt after
// attempt, capped at MaxDelay and jittered by up to ±20% when enabled.
func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
