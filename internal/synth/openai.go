package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "tts-1-hd"

// OpenAI synthesizes speech through the OpenAI speech API.
type OpenAI struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

// NewOpenAI creates an OpenAI speech synthesizer. An empty model selects the
// high-quality default.
func NewOpenAI(apiKey, model string, log *logger.Logger) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log,
	}
}

// Synthesize converts text to MP3 audio. The API accepts long inputs and
// speed natively, so no client-side chunking is needed; duration is estimated
// from the word count because MP3 frames carry no total-length header.
func (o *OpenAI) Synthesize(
	ctx context.Context,
	text, voice string,
	speed float64,
) (*core.Audio, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, fmt.Errorf("%w", ErrTextEmpty)
	}

	response, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		Speed:          speed,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, classifyOpenAIError(err, voice)
	}

	defer func() { _ = response.Close() }()

	audioData, err := io.ReadAll(response)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", core.ErrSynthesisFailed)
	}

	o.log.Info("Synthesized %d bytes of mp3 audio with voice %s", len(audioData), voice)

	return &core.Audio{
		Bytes:    audioData,
		Duration: estimateDuration(text, speed),
		Format:   "mp3",
	}, nil
}

// classifyOpenAIError maps API failures onto the adapter taxonomy using the
// returned status code. Rate limits and server errors are transient.
func classifyOpenAIError(err error, voice string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: openai voice %s: %v", core.ErrAdapterTimeout, voice, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: openai voice %s: %v", core.ErrAdapterUnavailable, voice, err)
		}

		return fmt.Errorf("%w: openai voice %s: %v", core.ErrSynthesisFailed, voice, err)
	}

	return fmt.Errorf("%w: openai voice %s: %v", core.ErrAdapterUnavailable, voice, err)
}

var _ core.Synthesizer = (*OpenAI)(nil)
