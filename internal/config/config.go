// Package config provides the configuration structure for the vocu-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Request types understood by the generation engine.
const (
	RequestTypeSync  = "sync"
	RequestTypeAsync = "async"
)

// Trace exporters understood by the telemetry package. An empty exporter
// disables tracing.
const (
	TraceExporterNone   = ""
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// Environment variables that override values from the config file.
const (
	envAPIKey = "VOCU_API_KEY"
	envProxy  = "VOCU_PROXY"
)

// Default values applied by ApplyDefaults.
const (
	defaultBaseURL             = "https://v1.vocu.ai"
	defaultTimeoutSeconds      = 60
	defaultPollIntervalSeconds = 3
	defaultDownloadTimeout     = 300
	defaultWorkers             = 2
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultSpeechSubject       = "speech.requested"
	defaultAudioBucket         = "VOCU_AUDIO"
)

var (
	// ErrAPIKeyEmpty indicates that no API key was configured.
	ErrAPIKeyEmpty = errors.New("vocu api key cannot be empty")
	// ErrInvalidRequestType indicates an unknown generation mode.
	ErrInvalidRequestType = errors.New("request type must be sync or async")
	// ErrNegativeDuration indicates that a timeout or interval is negative.
	ErrNegativeDuration = errors.New("durations must be non-negative")
	// ErrInvalidTraceExporter indicates an unknown trace exporter.
	ErrInvalidTraceExporter = errors.New("trace exporter must be empty, stdout or otlp")
	// ErrOTLPEndpointEmpty indicates the otlp exporter without an endpoint.
	ErrOTLPEndpointEmpty = errors.New("otlp exporter needs an endpoint")
)

// VocuConfig holds the remote TTS service settings.
type VocuConfig struct {
	APIKey                 string `toml:"api_key"`
	BaseURL                string `toml:"base_url"`
	Proxy                  string `toml:"proxy"`
	RequestType            string `toml:"request_type"`
	DefaultPromptID        string `toml:"default_prompt_id"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	PollIntervalSeconds    int    `toml:"poll_interval_seconds"`
	GenerateTimeoutSeconds int    `toml:"generate_timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	Workers                int    `toml:"workers"`
}

// CacheConfig holds the local audio cache settings.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SpeechRequestedSubject string `toml:"speech_requested_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// TelemetryConfig holds the metrics exporter settings.
type TelemetryConfig struct {
	PrometheusBind string `toml:"prometheus_bind"`
	TraceExporter  string `toml:"trace_exporter"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
	OTLPInsecure   bool   `toml:"otlp_insecure"`
}

// Config is the root configuration structure.
type Config struct {
	Vocu      VocuConfig      `toml:"vocu"`
	Cache     CacheConfig     `toml:"cache"`
	NATS      NATSConfig      `toml:"nats"`
	Paths     PathsConfig     `toml:"paths"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Load loads the configuration for the vocu-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv lets the API key and proxy come from the environment so the secret
// does not have to live in the config file.
func (c *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(envAPIKey)); key != "" {
		c.Vocu.APIKey = key
	}

	if proxy := strings.TrimSpace(os.Getenv(envProxy)); proxy != "" {
		c.Vocu.Proxy = proxy
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Vocu.BaseURL == "" {
		c.Vocu.BaseURL = defaultBaseURL
	}

	c.Vocu.BaseURL = strings.TrimRight(c.Vocu.BaseURL, "/")

	if c.Vocu.RequestType == "" {
		c.Vocu.RequestType = RequestTypeAsync
	}

	if c.Vocu.TimeoutSeconds == 0 {
		c.Vocu.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Vocu.PollIntervalSeconds == 0 {
		c.Vocu.PollIntervalSeconds = defaultPollIntervalSeconds
	}

	if c.Vocu.DownloadTimeoutSeconds == 0 {
		c.Vocu.DownloadTimeoutSeconds = defaultDownloadTimeout
	}

	if c.Vocu.Workers <= 0 {
		c.Vocu.Workers = defaultWorkers
	}

	if c.NATS.URL == "" {
		c.NATS.URL = defaultNATSURL
	}

	if c.NATS.SpeechRequestedSubject == "" {
		c.NATS.SpeechRequestedSubject = defaultSpeechSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = defaultAudioBucket
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Vocu.APIKey == "" {
		return ErrAPIKeyEmpty
	}

	switch c.Vocu.RequestType {
	case RequestTypeSync, RequestTypeAsync:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidRequestType, c.Vocu.RequestType)
	}

	if c.Vocu.TimeoutSeconds < 0 || c.Vocu.PollIntervalSeconds < 0 ||
		c.Vocu.GenerateTimeoutSeconds < 0 || c.Vocu.DownloadTimeoutSeconds < 0 {
		return ErrNegativeDuration
	}

	switch c.Telemetry.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	case TraceExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			return ErrOTLPEndpointEmpty
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidTraceExporter, c.Telemetry.TraceExporter)
	}

	return nil
}

// RequestTimeout is the per-request timeout for API calls.
func (v VocuConfig) RequestTimeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// PollInterval is the delay between async task status checks.
func (v VocuConfig) PollInterval() time.Duration {
	return time.Duration(v.PollIntervalSeconds) * time.Second
}

// GenerateTimeout bounds a whole generation call. Zero means no deadline.
func (v VocuConfig) GenerateTimeout() time.Duration {
	return time.Duration(v.GenerateTimeoutSeconds) * time.Second
}

// DownloadTimeout bounds a single media download.
func (v VocuConfig) DownloadTimeout() time.Duration {
	return time.Duration(v.DownloadTimeoutSeconds) * time.Second
}
