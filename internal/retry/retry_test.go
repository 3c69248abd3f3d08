package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/retry"
)

func TestDoSucceedsImmediately(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sentinel := errors.New("fatal")
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return sentinel
	}, func(error) bool { return false })
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return errors.New("still failing")
	}, nil)
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry.Do(ctx, retry.Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond}, func() error {
		return errors.New("boom")
	}, nil)
	require.Error(t, err)
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	cfg := retry.Config{MaxRetries: 10, InitialBackoff: time.Second, MaxBackoff: 2 * time.Second}
	d := retry.NextBackoff(cfg, 5)
	require.LessOrEqual(t, d, 3*time.Second)
}
