package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleep records requested waits without sleeping.
type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func (r *recordingSleep) total() time.Duration {
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

func TestDo_AlwaysFailing(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		wantWaits   []time.Duration
	}{
		{"single attempt", 1, nil},
		{"three attempts", 3, []time.Duration{time.Second, 2 * time.Second}},
		{"five attempts", 5, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSleep{}
			p := Policy{MaxAttempts: tt.maxAttempts, BaseDelay: time.Second, Sleep: rec.sleep}
			cause := errors.New("boom")

			calls := 0
			err := Do(context.Background(), p, func(context.Context) error {
				calls++
				return cause
			})

			if calls != tt.maxAttempts {
				t.Errorf("calls = %d, want %d", calls, tt.maxAttempts)
			}
			var exhausted *ExhaustedRetriesError
			if !errors.As(err, &exhausted) {
				t.Fatalf("expected ExhaustedRetriesError, got %v", err)
			}
			if exhausted.Attempts != tt.maxAttempts {
				t.Errorf("attempts = %d", exhausted.Attempts)
			}
			if !errors.Is(err, cause) {
				t.Errorf("last cause not propagated: %v", err)
			}
			if len(rec.waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", rec.waits, tt.wantWaits)
			}
			for i := range tt.wantWaits {
				if rec.waits[i] != tt.wantWaits[i] {
					t.Errorf("wait %d = %v, want %v", i, rec.waits[i], tt.wantWaits[i])
				}
			}
			if rec.total() < p.MaxWait() {
				t.Errorf("total wait %v < %v", rec.total(), p.MaxWait())
			}
		})
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
	if rec.total() != 3*time.Second {
		t.Errorf("total wait = %v", rec.total())
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	rec := &recordingSleep{}
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}
	authErr := &StatusError{StatusCode: 401}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return Permanent(authErr)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 401 {
		t.Errorf("expected 401 StatusError, got %v", err)
	}
	var exhausted *ExhaustedRetriesError
	if errors.As(err, &exhausted) {
		t.Error("permanent error must not be reported as exhausted retries")
	}
	if len(rec.waits) != 0 {
		t.Errorf("unexpected waits %v", rec.waits)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	p := Policy{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Backoff(0); got != time.Second {
		t.Errorf("Backoff(0) = %v", got)
	}
	if got := p.Backoff(1); got != 2*time.Second {
		t.Errorf("Backoff(1) = %v", got)
	}
	if got := p.MaxWait(); got != 3*time.Second {
		t.Errorf("MaxWait = %v", got)
	}
}
