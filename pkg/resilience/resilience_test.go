// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	rerrors "github.com/evosys/evo-runner/pkg/errors"
)

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithIsRecoverable(func(err error) bool {
		return false
	})
	err := config.Do(context.Background(), func() error {
		attempts++
		return rerrors.New(rerrors.CodeAuthMissing, "credential not set", nil)
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-recoverable error, got %d", attempts)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	config := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	if d := config.Delay(0); d != 100*time.Millisecond {
		t.Errorf("expected initial delay at attempt 0, got %v", d)
	}
	if d := config.Delay(1); d != 200*time.Millisecond {
		t.Errorf("expected 200ms at attempt 1, got %v", d)
	}
	if d := config.Delay(10); d != time.Second {
		t.Errorf("expected delay capped at max, got %v", d)
	}
}

func TestWithTimeoutExceeded(t *testing.T) {
	cfg := TimeoutConfig{Duration: 10 * time.Millisecond}
	err := WithTimeout(context.Background(), cfg, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	re := rerrors.AsRunnerError(err)
	if re == nil || re.Code != rerrors.CodeTimeout {
		t.Errorf("expected TIMEOUT error, got %v", err)
	}
}

func TestWithTimeoutCompletes(t *testing.T) {
	cfg := TimeoutConfig{Duration: time.Second}
	err := WithTimeout(context.Background(), cfg, func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Name:             "test",
	})

	fail := func() error { return errors.New("boom") }

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %v", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func() error {
		called = true
		return nil
	})
	if err == nil {
		t.Errorf("expected rejection while open")
	}
	if called {
		t.Errorf("function must not run while circuit is open")
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
		Name:             "test",
	})

	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open state")
	}

	time.Sleep(5 * time.Millisecond)

	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to run: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
}
