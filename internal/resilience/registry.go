package resilience

import (
	"sync"
	"time"
)

// Registry holds one breaker per dependency name. It is an explicit value
// injected at construction time, with no package-level breaker state,
// so tests get fresh breakers per instance.
type Registry struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share one threshold and
// recovery timeout.
func NewRegistry(failureThreshold int, recoveryTimeout time.Duration) *Registry {
	return &Registry{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.failureThreshold, r.recoveryTimeout)
		r.breakers[name] = b
	}
	return b
}

// Snapshot returns the state of every registered breaker.
func (r *Registry) Snapshot() []CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]CircuitState, 0, len(r.breakers))
	for _, b := range r.breakers {
		states = append(states, b.Snapshot())
	}
	return states
}
