package cache

import (
	"errors"
	"testing"
	"time"
)

func TestGetOrCompute_TTL(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	calls := 0
	compute := func() (any, error) {
		calls++
		return "context", nil
	}

	// Two calls within the TTL invoke compute once.
	if _, err := s.GetOrCompute("session-1/context", time.Second, compute); err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}
	now = now.Add(900 * time.Millisecond)
	v, err := s.GetOrCompute("session-1/context", time.Second, compute)
	if err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}
	if v != "context" || calls != 1 {
		t.Errorf("Expected cached value with 1 compute call, got %v with %d calls", v, calls)
	}

	// Past the TTL compute runs again.
	now = now.Add(200 * time.Millisecond)
	if _, err := s.GetOrCompute("session-1/context", time.Second, compute); err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected a second compute call after expiry, got %d", calls)
	}
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	s := New()

	calls := 0
	failing := func() (any, error) {
		calls++
		return nil, errors.New("store unavailable")
	}

	if _, err := s.GetOrCompute("k", time.Minute, failing); err == nil {
		t.Fatal("Expected compute error to propagate")
	}
	if _, err := s.GetOrCompute("k", time.Minute, failing); err == nil {
		t.Fatal("Expected compute error to propagate")
	}
	if calls != 2 {
		t.Errorf("Expected errors never cached, got %d compute calls", calls)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	s := New()

	seed := func(key string) {
		_, _ = s.GetOrCompute(key, time.Minute, func() (any, error) { return key, nil })
	}
	seed("session-1/context")
	seed("session-1/preferences")
	seed("session-2/context")

	if removed := s.InvalidatePrefix("session-1/"); removed != 2 {
		t.Errorf("Expected 2 entries removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry remaining, got %d", s.Len())
	}

	// session-2 survives.
	calls := 0
	_, _ = s.GetOrCompute("session-2/context", time.Minute, func() (any, error) {
		calls++
		return nil, nil
	})
	if calls != 0 {
		t.Error("Expected session-2 entry to survive prefix invalidation")
	}
}

func TestNilStoreDegradesToMiss(t *testing.T) {
	var s *Store

	calls := 0
	v, err := s.GetOrCompute("k", time.Minute, func() (any, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() on nil store failed: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Errorf("Expected compute on nil store, got %v with %d calls", v, calls)
	}

	if s.InvalidatePrefix("k") != 0 || s.Purge() != 0 || s.Len() != 0 {
		t.Error("Expected nil store helpers to no-op")
	}
}

func TestPurge(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.GetOrCompute("short", time.Second, func() (any, error) { return 1, nil })
	_, _ = s.GetOrCompute("long", time.Hour, func() (any, error) { return 2, nil })

	now = now.Add(2 * time.Second)
	if removed := s.Purge(); removed != 1 {
		t.Errorf("Expected 1 expired entry purged, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry remaining, got %d", s.Len())
	}
}
