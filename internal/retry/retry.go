package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy bounds an at-least-once operation. The wait between attempt i and i+1
// (0-indexed) is BaseDelay * 2^i.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds a single attempt; zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 attempts with 1s base delay (waits of 1s and 2s).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Backoff returns the wait after the given 0-indexed failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// MaxWait is the total backoff spent when every attempt fails.
func (p Policy) MaxWait() time.Duration {
	p = p.normalized()
	var total time.Duration
	for i := 0; i < p.MaxAttempts-1; i++ {
		total += p.Backoff(i)
	}
	return total
}

// StatusError is a completed HTTP exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// IsAuth reports whether the status means a missing or rejected credential.
func (e *StatusError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ExhaustedRetriesError is returned after every attempt failed. Cause is the
// last attempt's error.
type ExhaustedRetriesError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Cause
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the context ends, or
// MaxAttempts is reached.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := runAttempt(ctx, p, op)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt+1, ctx.Err())
		}

		evt := log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxAttempts)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			evt = evt.Int("status_code", statusErr.StatusCode)
		}

		if attempt == p.MaxAttempts-1 {
			evt.Msg("Attempt failed, no attempts left")
			break
		}

		wait := p.Backoff(attempt)
		evt.Dur("backoff", wait).Msg("Attempt failed, retrying")
		if err := p.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry aborted during backoff: %w", err)
		}
	}

	return &ExhaustedRetriesError{Attempts: p.MaxAttempts, Cause: lastErr}
}

func runAttempt(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
