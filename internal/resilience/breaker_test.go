package resilience

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterExactThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	b.Record(false)
	b.Record(false)
	if b.Status() != StatusClosed {
		t.Error("Expected Closed after 2 of 3 failures")
	}

	b.Record(false)
	if b.Status() != StatusOpen {
		t.Error("Expected Open after exactly 3 failures")
	}
}

func TestBreaker_OpenRejectsImmediately(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	b.Record(false)

	err := b.Allow()
	if err == nil {
		t.Fatal("Expected CircuitOpenError while open")
	}
	if !IsCircuitOpen(err) {
		t.Errorf("Expected CircuitOpenError, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	if b.Status() != StatusClosed {
		t.Error("Expected Closed: failures are consecutive, success resets the count")
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Record(false)
	if b.Status() != StatusOpen {
		t.Fatal("Expected Open")
	}

	// Recovery timeout elapses.
	now = now.Add(time.Minute + time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Expected one trial call after recovery timeout, got %v", err)
	}
	if b.Status() != StatusHalfOpen {
		t.Errorf("Expected HalfOpen, got %v", b.Status())
	}

	// A second concurrent call must be rejected while the trial is in flight.
	if err := b.Allow(); err == nil {
		t.Error("Expected second call rejected during half-open trial")
	}
}

func TestBreaker_CancelTrialReleasesSlot(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Record(false)
	now = now.Add(time.Minute + time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Expected trial after recovery timeout, got %v", err)
	}

	// The trial ends without an outcome (cancelled mid-call).
	b.CancelTrial()

	if b.Status() != StatusHalfOpen {
		t.Errorf("Expected still HalfOpen, got %v", b.Status())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected next trial admitted after cancellation, got %v", err)
	}
	if b.Snapshot().ConsecutiveFailures != 1 {
		t.Errorf("Cancellation must not change the failure count, got %d", b.Snapshot().ConsecutiveFailures)
	}

	b.Record(true)
	if b.Status() != StatusClosed {
		t.Errorf("Expected Closed after successful trial, got %v", b.Status())
	}
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Record(false)
	now = now.Add(2 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() failed: %v", err)
	}
	b.Record(true)

	snap := b.Snapshot()
	if snap.Status != StatusClosed {
		t.Errorf("Expected Closed after successful trial, got %v", snap.Status)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure count reset to 0, got %d", snap.ConsecutiveFailures)
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Record(false)
	openedAt := b.Snapshot().OpenedAt

	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() failed: %v", err)
	}
	b.Record(false)

	snap := b.Snapshot()
	if snap.Status != StatusOpen {
		t.Errorf("Expected Open after failed trial, got %v", snap.Status)
	}
	if !snap.OpenedAt.After(openedAt) {
		t.Error("Expected recovery timeout restarted after failed trial")
	}

	// Still rejected before the new timeout elapses.
	if err := b.Allow(); err == nil {
		t.Error("Expected rejection before restarted timeout elapses")
	}
}

func TestRegistry_IsolatedPerDependency(t *testing.T) {
	r := NewRegistry(1, time.Minute)

	r.Get("flaky").Record(false)

	if r.Get("flaky").Status() != StatusOpen {
		t.Error("Expected flaky breaker open")
	}
	if r.Get("healthy").Status() != StatusClosed {
		t.Error("Expected healthy breaker unaffected")
	}

	states := r.Snapshot()
	if len(states) != 2 {
		t.Errorf("Expected 2 breakers in snapshot, got %d", len(states))
	}
}
