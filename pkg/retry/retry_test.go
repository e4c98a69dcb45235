package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	b2err "github.com/falense/b2-fuse/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	retryer := New(DefaultConfig())
	attempts := 0
	err := retryer.Do(context.Background(), "op", func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoRetriesTransientErrorsThenSucceeds(t *testing.T) {
	retryer := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})
	attempts := 0
	err := retryer.Do(context.Background(), "op", func() error {
		attempts++
		if attempts < 3 {
			return b2err.New(b2err.RemoteTransient, "test", "temporary")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsImmediatelyOnNonRetryableError(t *testing.T) {
	retryer := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})
	attempts := 0
	sentinel := b2err.New(b2err.NotFound, "test", "missing")
	err := retryer.Do(context.Background(), "op", func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestDoExhaustsAttemptsAndWrapsLastError(t *testing.T) {
	retryer := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})
	attempts := 0
	err := retryer.Do(context.Background(), "list_keys", func() error {
		attempts++
		return b2err.New(b2err.RemoteTransient, "test", "still failing")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
	kind, ok := b2err.KindOf(err)
	require.True(t, ok)
	require.Equal(t, b2err.RemoteTransient, kind)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	retryer := New(Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := retryer.Do(ctx, "op", func() error {
		attempts++
		return b2err.New(b2err.RemoteTransient, "test", "temporary")
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 0, attempts)
}

func TestDelayForGrowsExponentiallyAndCapsAtMaxDelay(t *testing.T) {
	retryer := New(Config{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second, Jitter: false})
	require.Equal(t, time.Second, retryer.delayFor(1))
	require.Equal(t, 2*time.Second, retryer.delayFor(2))
	require.Equal(t, 3*time.Second, retryer.delayFor(3), "capped at MaxDelay despite 4s raw value")
}
