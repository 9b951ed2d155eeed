// Package config provides the configuration structure for the web2speech service.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to zero-valued fields after loading.
const (
	defaultPort             = 5000
	defaultMaxUploadMB      = 16
	defaultWorkers          = 4
	defaultQueueSize        = 256
	defaultRetryMaxAttempts = 3
	defaultRetryBaseMS      = 500
	defaultTimeoutSeconds   = 120
	defaultGraceSeconds     = 300
	defaultReapSeconds      = 60
	defaultArtifactTTLHours = 24
	defaultMaxChunkChars    = 1000
	defaultSpeedMin         = 0.5
	defaultSpeedMax         = 2.0
	defaultVoiceID          = "microsoft/speecht5_tts"
	defaultHFBaseURL        = "https://api-inference.huggingface.co/models"
	defaultBackend          = "huggingface"
	defaultNATSURL          = "nats://localhost:4222"
	defaultJobsBucket       = "WEB2SPEECH_JOBS"
	defaultArtifactsBucket  = "WEB2SPEECH_AUDIO"
	defaultTextsBucket      = "WEB2SPEECH_TEXTS"
)

// ErrNoVoices indicates a configuration without any voice descriptors.
var ErrNoVoices = errors.New("at least one voice must be configured")

// HTTPConfig holds the configuration for the HTTP surface.
type HTTPConfig struct {
	Port        int `toml:"port"`
	MaxUploadMB int `toml:"max_upload_mb"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	JobsBucket               string `toml:"jobs_bucket"`
	ArtifactsBucket          string `toml:"artifacts_bucket"`
	TextsBucket              string `toml:"texts_bucket"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
}

// OrchestratorConfig holds the worker pool and retry tuning.
type OrchestratorConfig struct {
	Workers            int   `toml:"workers"`
	QueueSize          int   `toml:"queue_size"`
	RetryMaxAttempts   int   `toml:"retry_max_attempts"`
	RetryBaseDelayMS   int   `toml:"retry_base_delay_ms"`
	GracePeriodSeconds int   `toml:"grace_period_seconds"`
	ReapIntervalSecs   int   `toml:"reap_interval_seconds"`
	ArtifactTTLHours   int   `toml:"artifact_ttl_hours"`
	MaxPDFBytes        int64 `toml:"max_pdf_bytes"`
}

// ExtractorConfig holds the extraction service endpoint.
type ExtractorConfig struct {
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTSConfig holds the synthesis backend selection and tuning.
type TTSConfig struct {
	Backend        string  `toml:"backend"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	DefaultVoice   string  `toml:"default_voice"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxChunkChars  int     `toml:"max_chunk_chars"`
	SpeedMin       float64 `toml:"speed_min"`
	SpeedMax       float64 `toml:"speed_max"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	HTTP         HTTPConfig             `toml:"http"`
	NATS         NATSConfig             `toml:"nats"`
	Orchestrator OrchestratorConfig     `toml:"orchestrator"`
	Extractor    ExtractorConfig        `toml:"extractor"`
	TTS          TTSConfig              `toml:"tts"`
	Voices       []core.VoiceDescriptor `toml:"voices"`
	Paths        PathsConfig            `toml:"paths"`
}

// Load loads the configuration through the central configurator and applies
// environment overrides and defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFromFile loads the configuration from a local TOML file. Used by tests
// and local development runs.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}

	return finalize(&cfg)
}

// finalize applies environment overrides, defaults and validation.
func finalize(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	err := validate(cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override secrets and the
// listen port without touching the TOML.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("HUGGINGFACE_API_KEY"); key != "" && cfg.TTS.Backend != "openai" {
		cfg.TTS.APIKey = key
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.TTS.Backend == "openai" {
		cfg.TTS.APIKey = key
	}

	if port := os.Getenv("PORT"); port != "" {
		parsed := 0

		_, err := fmt.Sscanf(port, "%d", &parsed)
		if err == nil && parsed > 0 {
			cfg.HTTP.Port = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}

	if cfg.HTTP.MaxUploadMB == 0 {
		cfg.HTTP.MaxUploadMB = defaultMaxUploadMB
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = defaultNATSURL
	}

	if cfg.NATS.JobsBucket == "" {
		cfg.NATS.JobsBucket = defaultJobsBucket
	}

	if cfg.NATS.ArtifactsBucket == "" {
		cfg.NATS.ArtifactsBucket = defaultArtifactsBucket
	}

	if cfg.NATS.TextsBucket == "" {
		cfg.NATS.TextsBucket = defaultTextsBucket
	}

	if cfg.Orchestrator.Workers == 0 {
		cfg.Orchestrator.Workers = defaultWorkers
	}

	if cfg.Orchestrator.QueueSize == 0 {
		cfg.Orchestrator.QueueSize = defaultQueueSize
	}

	if cfg.Orchestrator.RetryMaxAttempts == 0 {
		cfg.Orchestrator.RetryMaxAttempts = defaultRetryMaxAttempts
	}

	if cfg.Orchestrator.RetryBaseDelayMS == 0 {
		cfg.Orchestrator.RetryBaseDelayMS = defaultRetryBaseMS
	}

	if cfg.Orchestrator.GracePeriodSeconds == 0 {
		cfg.Orchestrator.GracePeriodSeconds = defaultGraceSeconds
	}

	if cfg.Orchestrator.ReapIntervalSecs == 0 {
		cfg.Orchestrator.ReapIntervalSecs = defaultReapSeconds
	}

	if cfg.Orchestrator.ArtifactTTLHours == 0 {
		cfg.Orchestrator.ArtifactTTLHours = defaultArtifactTTLHours
	}

	if cfg.Orchestrator.MaxPDFBytes == 0 {
		cfg.Orchestrator.MaxPDFBytes = int64(cfg.HTTP.MaxUploadMB) << 20
	}

	if cfg.Extractor.TimeoutSeconds == 0 {
		cfg.Extractor.TimeoutSeconds = defaultTimeoutSeconds
	}

	if cfg.TTS.Backend == "" {
		cfg.TTS.Backend = defaultBackend
	}

	if cfg.TTS.BaseURL == "" {
		cfg.TTS.BaseURL = defaultHFBaseURL
	}

	if cfg.TTS.TimeoutSeconds == 0 {
		cfg.TTS.TimeoutSeconds = defaultTimeoutSeconds
	}

	if cfg.TTS.MaxChunkChars == 0 {
		cfg.TTS.MaxChunkChars = defaultMaxChunkChars
	}

	if cfg.TTS.SpeedMin == 0 {
		cfg.TTS.SpeedMin = defaultSpeedMin
	}

	if cfg.TTS.SpeedMax == 0 {
		cfg.TTS.SpeedMax = defaultSpeedMax
	}

	if len(cfg.Voices) == 0 {
		cfg.Voices = []core.VoiceDescriptor{
			{ID: "microsoft/speecht5_tts", Label: "SpeechT5 (English)", Backend: defaultBackend},
			{ID: "espnet/kan-bayashi_ljspeech_vits", Label: "LJSpeech VITS", Backend: defaultBackend},
			{ID: "facebook/mms-tts-eng", Label: "MMS English", Backend: defaultBackend},
		}
	}

	if cfg.TTS.DefaultVoice == "" {
		cfg.TTS.DefaultVoice = defaultVoiceID
	}
}

func validate(cfg *Config) error {
	if len(cfg.Voices) == 0 {
		return ErrNoVoices
	}

	for _, voice := range cfg.Voices {
		if voice.ID == cfg.TTS.DefaultVoice {
			return nil
		}
	}

	return fmt.Errorf("%w: default voice %q is not in the configured voice list",
		core.ErrUnsupportedVoice, cfg.TTS.DefaultVoice)
}
