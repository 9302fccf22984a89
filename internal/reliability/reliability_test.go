package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration
	var retried []int

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
		OnRetry:     func(attempt int, err error) { retried = append(retried, attempt) },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
	if len(retried) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %v", retried)
	}
}

func TestRetryPolicy_StopsOnPermanent(t *testing.T) {
	attempts := 0
	declined := errors.New("declined")

	policy := RetryPolicy{
		MaxAttempts: 5,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(error) bool { return true },
	}
	err := policy.Do(context.Background(), func() error {
		attempts++
		return Permanent(declined)
	})
	if !errors.Is(err, declined) {
		t.Fatalf("expected declined, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryPolicy_DefaultDoesNotRetryCanceled(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	err := policy.Do(context.Background(), func() error {
		attempts++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected single canceled attempt, got %v after %d", err, attempts)
	}
}

func TestRetryPolicy_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := RetryPolicy{MaxAttempts: 2}.Do(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled without calling fn, got %v called=%v", err, called)
	}
}

func TestCircuitBreaker_OpensAndResets(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})
	fail := func() error { return errors.New("fail") }

	_ = breaker.Execute(fail)
	_ = breaker.Execute(fail)
	if breaker.State() != Open {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open trial call to succeed, got %v", err)
	}
	if breaker.State() != Closed {
		t.Fatalf("expected closed breaker, got %s", breaker.State())
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	for i := 0; i < 3; i++ {
		_ = breaker.Execute(func() error { return Permanent(errors.New("declined")) })
	}
	if breaker.State() != Closed {
		t.Fatalf("permanent errors must not open the breaker")
	}
}

func TestRateLimiter_WaitsForRefill(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var waited []time.Duration
	limiter := NewRateLimiter(100*time.Millisecond, 1, func(d time.Duration) { waited = append(waited, d) })
	limiter.now = func() time.Time { return now }
	limiter.last = now
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if len(waited) != 1 || waited[0] != 100*time.Millisecond {
		t.Fatalf("unexpected waits: %v", waited)
	}
}

func TestRateLimiter_NilIsNoop(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}

func TestGuard_RetriesThroughBreaker(t *testing.T) {
	calls := 0
	guard := NewGuard(Config{
		RetryMaxAttempts:   3,
		BreakerMaxFailures: 10,
	}, func(error) bool { return true }, nil)
	guard.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	err := guard.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("502")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if guard.Limiter != nil {
		t.Fatalf("expected no limiter when unset")
	}
}

func TestGuard_OpenBreakerIsNotRetriedByDefault(t *testing.T) {
	calls := 0
	guard := NewGuard(Config{RetryMaxAttempts: 3, BreakerMaxFailures: 1, BreakerResetTimeout: time.Hour}, nil, nil)
	guard.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	err := guard.Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open after first failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before breaker opened, got %d", calls)
	}
}

func TestNilGuard(t *testing.T) {
	var g *Guard
	if err := g.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("nil guard: %v", err)
	}
}

func TestGuard_OnceDoesNotRetry(t *testing.T) {
	calls := 0
	guard := NewGuard(Config{RetryMaxAttempts: 5}, func(error) bool { return true }, nil)
	guard.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	err := guard.Once(context.Background(), func() error {
		calls++
		return errors.New("timeout")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one failed call, got %v after %d", err, calls)
	}
	if guard.Retry.MaxAttempts != 5 {
		t.Fatalf("Once must not change the guard's retry policy")
	}
}
