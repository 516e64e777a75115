package resilience

import (
	"sync"
	"time"
)

// Status is the circuit breaker state.
type Status int

const (
	StatusClosed   Status = iota // Normal operation
	StatusOpen                   // Calls fail immediately
	StatusHalfOpen               // Exactly one trial call allowed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitState is a point-in-time snapshot of one breaker, exposed for
// metrics and diagnostics.
type CircuitState struct {
	Name                string
	Status              Status
	ConsecutiveFailures int
	OpenedAt            time.Time // zero unless the breaker has opened
}

// Breaker isolates one external dependency. After FailureThreshold
// consecutive failures it opens; after RecoveryTimeout it admits exactly
// one trial call (half-open). A successful trial closes the breaker and
// resets the failure count; a failed trial reopens it and restarts the
// timeout. The closed→open edge is never skipped.
//
// All mutation happens under one mutex, so concurrent invocations of the
// same dependency cannot lose updates.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu            sync.Mutex
	status        Status
	failures      int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		status:           StatusClosed,
		now:              time.Now,
	}
}

// Allow decides whether a call may proceed. It returns a CircuitOpenError
// when the breaker is open (or a half-open trial is already in flight),
// with no attempt made against the dependency.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case StatusClosed:
		return nil

	case StatusOpen:
		if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.status = StatusHalfOpen
			b.trialInFlight = true
			return nil
		}
		return &CircuitOpenError{Dependency: b.name}

	case StatusHalfOpen:
		if b.trialInFlight {
			return &CircuitOpenError{Dependency: b.name}
		}
		b.trialInFlight = true
		return nil
	}

	return &CircuitOpenError{Dependency: b.name}
}

// Record reports the final outcome of one guarded call. Retries inside
// the call do not reach the breaker; only the outcome does.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		b.status = StatusClosed
		b.trialInFlight = false
		return
	}

	b.failures++
	b.trialInFlight = false

	switch b.status {
	case StatusClosed:
		if b.failures >= b.failureThreshold {
			b.status = StatusOpen
			b.openedAt = b.now()
		}
	case StatusHalfOpen:
		// Failed trial: reopen and restart the timeout.
		b.status = StatusOpen
		b.openedAt = b.now()
	}
}

// CancelTrial releases a guarded call that ended with no outcome, such
// as a context cancellation between retry attempts. Neither success nor
// failure is counted; a half-open breaker may admit the next trial.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// Status returns the current state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Snapshot returns the breaker's observable state.
func (b *Breaker) Snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		Name:                b.name,
		Status:              b.status,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
	}
}
