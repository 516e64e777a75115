package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_pipeline_active_sessions",
		Help: "Number of active voice sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_sessions_total",
		Help: "Total number of voice sessions started",
	}, []string{"mode"}) // mode: "single" or "conversation"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_pipeline_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	wakeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_wake_rejections_total",
		Help: "Wake signals dropped because the room already had an active session",
	})

	sessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_session_timeouts_total",
		Help: "Sessions forced back to idle after no forward progress",
	})

	// Transcription metrics
	transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_transcriptions_total",
		Help: "Finalized transcriptions by engine and status",
	}, []string{"engine", "status"})

	transcriptConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_pipeline_transcript_confidence",
		Help:    "Confidence score of finalized transcripts",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"engine"})

	refinements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_refinements_total",
		Help: "Escalations to the refinement recognizer",
	})

	frameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_frame_errors_total",
		Help: "Audio frames dropped for format errors",
	})

	// Invoker metrics
	invokerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_invoker_calls_total",
		Help: "Resilient invoker calls by dependency and status",
	}, []string{"dependency", "status"})

	invokerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_pipeline_invoker_latency_seconds",
		Help:    "End-to-end latency of invoker calls, retries included",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"dependency"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"dependency"})

	// Event bus metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_events_published_total",
		Help: "Session events published by event type",
	}, []string{"event_type"})

	busClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_pipeline_bus_clients",
		Help: "Connected event bus subscribers",
	})
)

// RecordSessionStart records a new session entering the pipeline
func RecordSessionStart(mode string) {
	activeSessions.Inc()
	sessionsTotal.WithLabelValues(mode).Inc()
}

// RecordSessionEnd records a session returning to idle
func RecordSessionEnd(startedAt time.Time) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(startedAt).Seconds())
}

// RecordWakeRejected records a wake signal dropped for a busy room
func RecordWakeRejected() {
	wakeRejections.Inc()
}

// RecordSessionTimeout records a no-progress timeout
func RecordSessionTimeout() {
	sessionTimeouts.Inc()
}

// RecordTranscription records a finalized transcription
func RecordTranscription(engine string, confidence float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	transcriptions.WithLabelValues(engine, status).Inc()
	if success {
		transcriptConfidence.WithLabelValues(engine).Observe(confidence)
	}
}

// RecordRefinement records an escalation to the refinement recognizer
func RecordRefinement() {
	refinements.Inc()
}

// RecordFrameError records a malformed audio frame
func RecordFrameError() {
	frameErrors.Inc()
}

// RecordInvokerCall records one resilient invoker call outcome
func RecordInvokerCall(dependency string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	invokerCalls.WithLabelValues(dependency, status).Inc()
	invokerLatency.WithLabelValues(dependency).Observe(time.Since(start).Seconds())
}

// RecordCircuitState records a circuit breaker state change
func RecordCircuitState(dependency string, state float64) {
	circuitBreakerState.WithLabelValues(dependency).Set(state)
}

// RecordCircuitFailure records a circuit breaker failure
func RecordCircuitFailure(dependency string) {
	circuitBreakerFailures.WithLabelValues(dependency).Inc()
}

// RecordEventPublished records a session event hitting the bus
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// SetBusClients records the current subscriber count
func SetBusClients(n int) {
	busClients.Set(float64(n))
}
