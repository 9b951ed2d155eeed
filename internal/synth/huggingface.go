// Package synth provides speech synthesis adapters over external TTS backends.
//
// Backends are selected by configuration through New. Long inputs are chunked
// on sentence boundaries, synthesized in order and concatenated seamlessly, so
// the total reported duration is the sum of the chunk durations.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
)

// HTTP headers and content types.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeWAV      = "audio/wav"
)

// ErrTextEmpty indicates an empty synthesis input.
var ErrTextEmpty = errors.New("text cannot be empty")

// hfRequest is the Hugging Face inference API payload. The voice id doubles
// as the model path in the request URL, so parameters only carry tuning.
type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	Speed float64 `json:"speed,omitempty"`
}

// hfError is the error body returned by the inference API.
type hfError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// HuggingFace synthesizes speech through the Hugging Face inference API.
type HuggingFace struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	maxChunkChars int
	log           *logger.Logger
}

// NewHuggingFace creates a Hugging Face inference API synthesizer. baseURL is
// the inference endpoint root (e.g. "https://api-inference.huggingface.co/models").
func NewHuggingFace(
	baseURL, apiKey string,
	timeout time.Duration,
	maxChunkChars int,
	log *logger.Logger,
) *HuggingFace {
	return &HuggingFace{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxChunkChars: maxChunkChars,
		log:           log,
	}
}

// Synthesize converts text to WAV audio with the given voice (a Hugging Face
// model id) and speed multiplier.
func (h *HuggingFace) Synthesize(
	ctx context.Context,
	text, voice string,
	speed float64,
) (*core.Audio, error) {
	chunks := splitChunks(text, h.maxChunkChars)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w", ErrTextEmpty)
	}

	audioChunks := make([][]byte, 0, len(chunks))
	totalDuration := 0.0

	for chunkIndex, chunk := range chunks {
		audioData, err := h.generate(ctx, chunk, voice, speed)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunkIndex+1, len(chunks), err)
		}

		duration, durationErr := wavDuration(audioData)
		if durationErr != nil {
			duration = estimateDuration(chunk, speed)
		}

		totalDuration += duration

		audioChunks = append(audioChunks, audioData)
		h.log.Info("Synthesized chunk %d/%d (%d bytes)", chunkIndex+1, len(chunks), len(audioData))
	}

	combined, err := concatWAV(audioChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to concatenate audio chunks: %w", err)
	}

	return &core.Audio{
		Bytes:    combined,
		Duration: totalDuration,
		Format:   "wav",
	}, nil
}

func (h *HuggingFace) generate(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	requestBody, err := json.Marshal(hfRequest{
		Inputs: text,
		Parameters: hfParameters{
			Speed: speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := h.baseURL + "/" + voice

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	if h.apiKey != "" {
		httpReq.Header.Set(headerAuthorization, "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: synthesis backend %s: %v", core.ErrAdapterTimeout, voice, err)
		}

		return nil, fmt.Errorf("%w: synthesis backend %s: %v", core.ErrAdapterUnavailable, voice, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, h.classifyStatusError(resp, voice)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", core.ErrSynthesisFailed)
	}

	return audioData, nil
}

// classifyStatusError maps inference API failures onto the adapter taxonomy.
// 503 means the model is still loading and 429 is rate limiting; both are
// transient. Other 4xx responses (text too long, invalid parameters) are not.
func (h *HuggingFace) classifyStatusError(resp *http.Response, voice string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr hfError

	detail := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		detail = apiErr.Error
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: model %s returned %s: %s",
			core.ErrAdapterUnavailable, voice, resp.Status, detail)
	default:
		return fmt.Errorf("%w: model %s rejected request (%s): %s",
			core.ErrSynthesisFailed, voice, resp.Status, detail)
	}
}
