// Package retry implements the bounded retry policy applied to collaborator
// calls. Exhausted retries surface the last error; the caller skips the
// affected action and moves to the next tick rather than blocking.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrPermanent wraps errors that must not be retried (validation failures,
// rejected orders). Use Permanent() to mark them.
var ErrPermanent = errors.New("permanent failure")

// Policy is an explicit retry schedule injected into collaborator calls.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // base delay, doubled per attempt
	MaxBackoff  time.Duration
}

// DefaultPolicy matches the broker client defaults: 3 attempts, 500ms base.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// Do runs fn up to MaxAttempts times with exponential backoff between
// attempts. It stops early on success, on a permanent error, or when ctx is
// done. The op name is only used for logging.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.Backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("transient failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
	}

	log.Warn().Str("op", op).Int("attempts", attempts).Err(lastErr).Msg("retries exhausted")
	return lastErr
}
