package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice pipeline service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey       string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel        string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`         // streaming model
	DeepgramRefinedModel string `envconfig:"DEEPGRAM_REFINED_MODEL" default:"nova-2"` // batch refinement model
	DeepgramLanguage     string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`          // language code (en, es, fr, etc.)
	SampleRate           int    `envconfig:"SAMPLE_RATE" default:"16000"`             // capture sample rate in Hz

	// Language-model provider configuration
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""` // optional self-hosted gateway

	// Home-automation control plane
	ControlPlaneURL     string `envconfig:"CONTROL_PLANE_URL" default:"http://localhost:8123"`
	ControlPlaneToken   string `envconfig:"CONTROL_PLANE_TOKEN" default:""`
	ControlPlaneTimeout int    `envconfig:"CONTROL_PLANE_TIMEOUT" default:"10"` // seconds

	// Audio processing configuration
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // mean-abs amplitude marking speech
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // frames of silence ending an utterance
	VADMinSpeechFrames int     `envconfig:"VAD_MIN_SPEECH_FRAMES" default:"5"`    // speech frames required before silence ends it
	VADMaxFrames       int     `envconfig:"VAD_MAX_FRAMES" default:"750"`         // utterance cap before forced completion
	FrameSamples       int     `envconfig:"FRAME_SAMPLES" default:"320"`          // samples per frame (20ms at 16kHz)

	// Transcription policy
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.7"` // escalate to refinement below this
	DefaultConfidence   float64 `envconfig:"DEFAULT_CONFIDENCE" default:"0.85"`  // used when the engine gives no word scores
	PreferRefined       bool    `envconfig:"PREFER_REFINED" default:"false"`     // gate processing on refinement

	// Session policy
	SessionTimeout int    `envconfig:"SESSION_TIMEOUT" default:"30"` // seconds of no progress before forced idle
	EndPhrases     string `envconfig:"END_PHRASES" default:"goodbye,stop listening,that's all"`
	FallbackText   string `envconfig:"FALLBACK_TEXT" default:"Sorry, I can't reach that service right now."`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"60"` // seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // attempts per invoke
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"2000"`       // initial backoff in milliseconds
	RetryMaxBackoff            int `envconfig:"RETRY_MAX_BACKOFF" default:"8000"`           // backoff cap in milliseconds

	// Context cache
	CacheTTL int `envconfig:"CACHE_TTL" default:"30"` // seconds

	// Event bus topics
	TopicNamespace string `envconfig:"TOPIC_NAMESPACE" default:"assistant"`
	TopicVersions  string `envconfig:"TOPIC_VERSIONS" default:"2"` // comma-separated active versions, dual-publish during migration

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return fmt.Errorf("DEFAULT_CONFIDENCE must be in [0,1], got %v", c.DefaultConfidence)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("FRAME_SAMPLES must be positive, got %d", c.FrameSamples)
	}
	if c.VADSilenceFrames <= 0 || c.VADMinSpeechFrames <= 0 {
		return fmt.Errorf("VAD frame counts must be positive")
	}
	if len(c.ActiveTopicVersions()) == 0 {
		return fmt.Errorf("TOPIC_VERSIONS must name at least one version")
	}
	return nil
}

// ActiveTopicVersions splits the comma-separated version list.
func (c *Config) ActiveTopicVersions() []string {
	var versions []string
	for _, v := range strings.Split(c.TopicVersions, ",") {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}
	return versions
}

// EndPhraseList splits the comma-separated end-phrase list.
func (c *Config) EndPhraseList() []string {
	var phrases []string
	for _, p := range strings.Split(c.EndPhrases, ",") {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}
