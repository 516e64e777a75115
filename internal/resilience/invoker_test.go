package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testInvoker(threshold int) *Invoker {
	return NewInvoker(
		NewRegistry(threshold, time.Minute),
		RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2.0},
		zerolog.Nop(),
	)
}

func TestInvoker_RetriesTransientFailures(t *testing.T) {
	iv := testInvoker(5)

	attempts := 0
	result, err := iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, Transient(errors.New("connection refused"))
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Invoke() failed: %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected 'ok', got %v", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestInvoker_PermanentFailureFailsFast(t *testing.T) {
	iv := testInvoker(5)

	attempts := 0
	_, err := iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		attempts++
		return nil, errors.New("invalid credentials")
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a permanent failure, got %d", attempts)
	}
}

func TestInvoker_BreakerCountsOutcomesNotAttempts(t *testing.T) {
	// Threshold 2: two Invokes of 3 failed attempts each must open the
	// breaker; 6 attempts alone must not have opened it earlier.
	iv := testInvoker(2)

	fail := func(ctx context.Context) (any, error) {
		return nil, Transient(errors.New("timeout"))
	}

	if _, err := iv.Invoke(context.Background(), "dep", fail); err == nil {
		t.Fatal("Expected failure")
	}
	if iv.Registry().Get("dep").Status() != StatusClosed {
		t.Error("Expected breaker still closed after one failed Invoke (3 attempts)")
	}

	if _, err := iv.Invoke(context.Background(), "dep", fail); err == nil {
		t.Fatal("Expected failure")
	}
	if iv.Registry().Get("dep").Status() != StatusOpen {
		t.Error("Expected breaker open after two failed Invokes")
	}
}

func TestInvoker_OpenCircuitNoAttempt(t *testing.T) {
	iv := testInvoker(1)

	_, _ = iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	attempts := 0
	_, err := iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		attempts++
		return "ok", nil
	})

	if !IsCircuitOpen(err) {
		t.Errorf("Expected CircuitOpenError, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected zero attempts while circuit open, got %d", attempts)
	}
}

func TestInvoker_ContextCancelled(t *testing.T) {
	iv := testInvoker(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := iv.Invoke(ctx, "dep", func(ctx context.Context) (any, error) {
		attempts++
		return nil, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected no attempts after cancellation, got %d", attempts)
	}

	// Cancellation must not count as a dependency failure.
	if iv.Registry().Get("dep").Snapshot().ConsecutiveFailures != 0 {
		t.Error("Expected no breaker failures recorded for cancellation")
	}
}

func TestInvoker_CancelledHalfOpenTrialDoesNotWedge(t *testing.T) {
	iv := testInvoker(1)
	breaker := iv.Registry().Get("dep")
	now := time.Now()
	breaker.now = func() time.Time { return now }

	// Open the breaker.
	if _, err := iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Fatal("Expected failure")
	}
	if breaker.Status() != StatusOpen {
		t.Fatalf("Expected Open, got %v", breaker.Status())
	}

	// Recovery timeout elapses; the admitted trial is cancelled between
	// retry attempts.
	now = now.Add(2 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := iv.Invoke(ctx, "dep", func(ctx context.Context) (any, error) {
		cancel()
		return nil, Transient(errors.New("timeout"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// The abandoned trial must not block the dependency forever: a
	// healthy call is admitted and closes the breaker.
	attempts := 0
	result, err := iv.Invoke(context.Background(), "dep", func(ctx context.Context) (any, error) {
		attempts++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Expected recovered call to succeed, got %v", err)
	}
	if result != "ok" || attempts != 1 {
		t.Errorf("Expected one successful attempt, got result=%v attempts=%d", result, attempts)
	}
	if breaker.Status() != StatusClosed {
		t.Errorf("Expected Closed after successful trial, got %v", breaker.Status())
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"marked", Transient(errors.New("anything")), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"unavailable text", errors.New("service unavailable"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"auth", errors.New("invalid api key"), false},
		{"validation", errors.New("missing field room_id"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
