package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hearthd/voice-pipeline/internal/audio"
	"github.com/hearthd/voice-pipeline/internal/bus"
	"github.com/hearthd/voice-pipeline/internal/cache"
	"github.com/hearthd/voice-pipeline/internal/config"
	"github.com/hearthd/voice-pipeline/internal/gateway"
	"github.com/hearthd/voice-pipeline/internal/observability"
	"github.com/hearthd/voice-pipeline/internal/resilience"
	"github.com/hearthd/voice-pipeline/internal/session"
	"github.com/hearthd/voice-pipeline/internal/stt"
	"github.com/hearthd/voice-pipeline/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("control_plane_url", cfg.ControlPlaneURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Pipeline Service starting")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event bus: in-process fanout to display clients.
	hub := bus.NewHub(logger)
	publisher := bus.NewPublisher(hub, bus.TopicScheme{
		Namespace: cfg.TopicNamespace,
		Versions:  cfg.ActiveTopicVersions(),
	}, logger)

	// Resilience: one breaker per dependency, retries inside each call.
	registry := resilience.NewRegistry(cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	invoker := resilience.NewInvoker(registry, resilience.RetryConfig{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
		Multiplier:     2.0,
	}, logger)

	// Downstream clients.
	plane := tools.NewControlPlane(cfg.ControlPlaneURL, cfg.ControlPlaneToken, time.Duration(cfg.ControlPlaneTimeout)*time.Second, logger)
	llm, err := tools.NewLLM(tools.LLMConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create language-model client")
	}

	store := cache.New()
	agent := tools.NewAgent(llm, plane, invoker, store, tools.AgentConfig{
		ContextTTL: time.Duration(cfg.CacheTTL) * time.Second,
	}, logger)

	// Recognition tiers.
	refiner := stt.NewDeepgramRest(stt.DeepgramRestConfig{
		APIKey:   cfg.DeepgramAPIKey,
		Model:    cfg.DeepgramRefinedModel,
		Language: cfg.DeepgramLanguage,
	}, logger)
	engineFactory := func() (stt.StreamEngine, error) {
		return stt.NewDeepgramLive(stt.DeepgramLiveConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			SampleRate: cfg.SampleRate,
		}, logger), nil
	}

	orch := session.NewOrchestrator(session.Config{
		SampleRate: cfg.SampleRate,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			MinSpeechFrames: cfg.VADMinSpeechFrames,
			MaxFrames:       cfg.VADMaxFrames,
			FrameSamples:    cfg.FrameSamples,
		},
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		DefaultConfidence:   cfg.DefaultConfidence,
		PreferRefined:       cfg.PreferRefined,
		SessionTimeout:      time.Duration(cfg.SessionTimeout) * time.Second,
		EndPhrases:          cfg.EndPhraseList(),
		FallbackText:        cfg.FallbackText,
	}, engineFactory, refiner, agent, invoker, publisher, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/room", gateway.HandleRoomWS(orch, logger))
	mux.HandleFunc("/events", hub.ServeWS(logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler("voice-pipeline", "1.0.0"))
	mux.HandleFunc("/ready", observability.ReadinessHandler("voice-pipeline", "1.0.0", map[string]observability.HealthCheckFunc{
		"control_plane": func(ctx context.Context) (bool, error) {
			_, err := plane.FetchStates(ctx)
			return err == nil, err
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	done := make(chan struct{})

	g.Go(func() error {
		hub.Run(done)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				orch.CheckTimeouts()
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/room", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
		}

		orch.Wait()
		close(done)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Service failed")
	}
	logger.Info().Msg("Server exited gracefully")
}
