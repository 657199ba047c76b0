package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func TestDoSuccessOnFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), Sleep: rec.sleep}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected 1 call, got calls=%d attempts=%d", calls, attempts)
	}
	if len(rec.waits) != 0 {
		t.Fatalf("no wait expected, got %v", rec.waits)
	}
}

func TestDoExhaustsWithExponentialWaits(t *testing.T) {
	rec := &sleepRecorder{}
	sentinel := errors.New("always fails")
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), Sleep: rec.sleep}, func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 calls, got calls=%d attempts=%d", calls, attempts)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, rec.waits)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Fatalf("wait %d: expected %v, got %v", i, want[i], rec.waits[i])
		}
	}
}

func TestDoSuccessOnRetry(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Sleep: rec.sleep}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoPermanentStops(t *testing.T) {
	sentinel := errors.New("bad payload")
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 5}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) || !IsPermanent(err) {
		t.Fatalf("expected permanent sentinel, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("permanent error must not be retried, calls=%d", calls)
	}
}

func TestDoRetryablePredicate(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 4,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("non-retryable error should stop after one call, calls=%d err=%v", calls, err)
	}
}

func TestDoOnRetryHook(t *testing.T) {
	var seen []int
	_, _ = Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Millisecond),
		OnRetry:     func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) },
		Sleep:       (&sleepRecorder{}).sleep,
	}, func(context.Context) error { return errors.New("x") })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected hook for attempts 1 and 2, got %v", seen)
	}
}

func TestDoContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sentinel := errors.New("fail")
	calls := 0
	attempts, err := Do(ctx, Policy{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Hour),
		OnRetry:     func(int, time.Duration, error) { cancel() },
	}, func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last error after cancellation, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDoZeroMaxAttempts(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 || attempts != 1 {
		t.Fatalf("expected a single successful call, calls=%d err=%v", calls, err)
	}
}

func TestExponential(t *testing.T) {
	b := Exponential(time.Second)
	if b(1) != 2*time.Second || b(2) != 4*time.Second || b(3) != 8*time.Second {
		t.Fatalf("unexpected backoff sequence: %v %v %v", b(1), b(2), b(3))
	}
}
