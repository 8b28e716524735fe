package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "price_lookup", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAndReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: time.Millisecond}

	calls := 0
	last := errors.New("rate limited")
	err := p.Do(context.Background(), "submit_order", func(ctx context.Context) error {
		calls++
		return last
	})

	assert.ErrorIs(t, err, last)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "submit_order", func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("order rejected"))
	})

	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 10, Backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, "fetch", func(ctx context.Context) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var p Policy
	calls := 0
	_ = p.Do(context.Background(), "noop", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}
