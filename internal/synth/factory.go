package synth

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
)

// Supported backend names.
const (
	BackendHuggingFace = "huggingface"
	BackendOpenAI      = "openai"
)

// ErrUnknownBackend indicates a backend name with no registered synthesizer.
var ErrUnknownBackend = errors.New("unknown synthesis backend")

// Config selects and configures a synthesis backend.
type Config struct {
	Backend       string
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxChunkChars int
}

// New builds the synthesizer named by cfg.Backend.
func New(cfg Config, log *logger.Logger) (core.Synthesizer, error) {
	switch cfg.Backend {
	case BackendHuggingFace:
		return NewHuggingFace(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.MaxChunkChars, log), nil
	case BackendOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
