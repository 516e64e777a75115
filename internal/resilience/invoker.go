package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/observability"
)

// RetryConfig holds the retry-with-backoff policy applied inside one
// breaker-guarded call.
type RetryConfig struct {
	MaxAttempts    int           // Attempts per Invoke, including the first
	InitialBackoff time.Duration // Backoff before the second attempt
	MaxBackoff     time.Duration // Backoff cap
	Multiplier     float64       // Exponential growth factor
}

// DefaultRetryConfig returns the stock policy: three attempts, 2s initial
// backoff doubling to an 8s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

// InvokeFunc is one call against an external dependency.
type InvokeFunc func(ctx context.Context) (any, error)

// Invoker wraps every external call with retry-with-backoff and a circuit
// breaker. The two compose in a fixed order: retries happen inside one
// breaker-guarded call, and the breaker records one outcome per Invoke,
// not per attempt. Only transient failures are retried; validation and
// auth failures fail fast.
type Invoker struct {
	registry *Registry
	retry    RetryConfig
	logger   zerolog.Logger
}

// NewInvoker creates an invoker over the given breaker registry.
func NewInvoker(registry *Registry, retry RetryConfig, logger zerolog.Logger) *Invoker {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Invoker{registry: registry, retry: retry, logger: logger}
}

// Invoke runs fn against the named dependency. It fails immediately with
// a CircuitOpenError while the breaker is open, and honors ctx at the
// start of the call and between attempts. Cancellation does not count as
// a dependency failure.
func (iv *Invoker) Invoke(ctx context.Context, dependency string, fn InvokeFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	breaker := iv.registry.Get(dependency)
	if err := breaker.Allow(); err != nil {
		iv.logger.Warn().Str("dependency", dependency).Msg("Call rejected, circuit open")
		return nil, err
	}

	start := time.Now()
	var lastErr error
	backoff := iv.retry.InitialBackoff

	for attempt := 1; attempt <= iv.retry.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			breaker.Record(true)
			observability.RecordInvokerCall(dependency, start, nil)
			iv.exportCircuit(dependency, breaker)
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			iv.logger.Debug().
				Str("dependency", dependency).
				Err(err).
				Msg("Permanent failure, not retrying")
			break
		}

		if attempt == iv.retry.MaxAttempts {
			break
		}

		iv.logger.Debug().
			Str("dependency", dependency).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Transient failure, retrying")

		select {
		case <-ctx.Done():
			// Cancellation is not a dependency failure: no outcome is
			// recorded, and a half-open trial slot is released so the
			// next call can still probe the dependency.
			breaker.CancelTrial()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * iv.retry.Multiplier)
		if backoff > iv.retry.MaxBackoff {
			backoff = iv.retry.MaxBackoff
		}
	}

	breaker.Record(false)
	observability.RecordInvokerCall(dependency, start, lastErr)
	observability.RecordCircuitFailure(dependency)
	iv.exportCircuit(dependency, breaker)
	return nil, lastErr
}

func (iv *Invoker) exportCircuit(dependency string, breaker *Breaker) {
	observability.RecordCircuitState(dependency, float64(breaker.Status()))
}

// Registry exposes the breaker registry for metrics export.
func (iv *Invoker) Registry() *Registry {
	return iv.registry
}
