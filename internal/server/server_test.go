package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/book-expert/web2speech/internal/job"
	"github.com/book-expert/web2speech/internal/orchestrator"
	"github.com/book-expert/web2speech/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxUpload = 1 << 20

type stubJobService struct {
	submitted []orchestrator.SubmitRequest
	submitErr error

	statusJob *job.Job
	statusErr error

	cancelErr error

	artifact    *core.Artifact
	downloadErr error

	voices []core.VoiceDescriptor
}

func (s *stubJobService) Submit(
	_ context.Context,
	req orchestrator.SubmitRequest,
) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}

	s.submitted = append(s.submitted, req)

	return "session-1", nil
}

func (s *stubJobService) Status(string) (*job.Job, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}

	return s.statusJob, nil
}

func (s *stubJobService) Cancel(string) error {
	return s.cancelErr
}

func (s *stubJobService) Download(context.Context, string) (*core.Artifact, error) {
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}

	return s.artifact, nil
}

func (s *stubJobService) Voices() []core.VoiceDescriptor {
	return s.voices
}

type stubExtractor struct {
	result *core.ExtractedText
	err    error
}

func (s *stubExtractor) ExtractURL(context.Context, string) (*core.ExtractedText, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.result, nil
}

func (s *stubExtractor) ExtractPDF(context.Context, []byte) (*core.ExtractedText, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.result, nil
}

func newTestServer(
	t *testing.T,
	jobs *stubJobService,
	extractor core.Extractor,
) http.Handler {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return server.New(jobs, extractor, testMaxUpload, 5*time.Second, log).Handler()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, server.Version, body["version"])
}

type unreachableExtractor struct {
	stubExtractor
}

func (u *unreachableExtractor) HealthCheck(context.Context) error {
	return core.ErrAdapterUnavailable
}

func TestHealthReportsDegradedExtraction(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &unreachableExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, features["url_extraction"])
	assert.Equal(t, true, features["text_to_speech"])
}

func TestGenerateTextSubmission(t *testing.T) {
	t.Parallel()

	jobs := &stubJobService{}
	handler := newTestServer(t, jobs, &stubExtractor{})

	payload := `{"type":"text","content":"Hello world.","voice":"espnet/kan-bayashi_ljspeech_vits","speed":1.5}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/speech/generate",
		strings.NewReader(payload),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "session-1", body["session_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "/api/speech/status/session-1", body["polling_url"])

	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, job.KindText, jobs.submitted[0].Kind)
	assert.Equal(t, "Hello world.", jobs.submitted[0].Payload)
	assert.Equal(t, "espnet/kan-bayashi_ljspeech_vits", jobs.submitted[0].Voice)
	assert.InDelta(t, 1.5, jobs.submitted[0].Speed, 0.001)
}

func TestGenerateDefaultsToTextKind(t *testing.T) {
	t.Parallel()

	jobs := &stubJobService{}
	handler := newTestServer(t, jobs, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/speech/generate",
		strings.NewReader(`{"content":"Hello."}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, job.KindText, jobs.submitted[0].Kind)
}

func TestGenerateRejectsMissingContent(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/speech/generate",
		strings.NewReader(`{"type":"text"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		submitErr  error
		wantStatus int
	}{
		{"unsupported voice", core.ErrUnsupportedVoice, http.StatusBadRequest},
		{"invalid parameter", core.ErrInvalidParameter, http.StatusBadRequest},
		{"payload too large", core.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"queue full", core.ErrQueueFull, http.StatusServiceUnavailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			handler := newTestServer(
				t,
				&stubJobService{submitErr: testCase.submitErr},
				&stubExtractor{},
			)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(
				http.MethodPost,
				"/api/speech/generate",
				strings.NewReader(`{"type":"text","content":"Hello."}`),
			)
			req.Header.Set("Content-Type", "application/json")
			handler.ServeHTTP(rec, req)

			assert.Equal(t, testCase.wantStatus, rec.Code)
		})
	}
}

func buildPDFForm(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)

	_, err = part.Write(data)
	require.NoError(t, err)

	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestGeneratePDFUpload(t *testing.T) {
	t.Parallel()

	jobs := &stubJobService{}
	handler := newTestServer(t, jobs, &stubExtractor{})

	body, contentType := buildPDFForm(t, "report.pdf", []byte("%PDF-1.4 content"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech/generate", body)
	req.Header.Set("Content-Type", contentType)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, job.KindPDF, jobs.submitted[0].Kind)
	assert.Equal(t, []byte("%PDF-1.4 content"), jobs.submitted[0].PDF)
}

func TestGenerateRejectsNonPDFUpload(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	body, contentType := buildPDFForm(t, "notes.txt", []byte("plain text"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech/generate", body)
	req.Header.Set("Content-Type", contentType)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateRejectsOversizedUpload(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	body, contentType := buildPDFForm(t, "big.pdf", make([]byte, testMaxUpload+1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech/generate", body)
	req.Header.Set("Content-Type", contentType)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	record := &job.Job{
		ID:         "session-1",
		Kind:       job.KindText,
		State:      job.StateCompleted,
		Progress:   100,
		ArtifactID: "artifact-1.wav",
		Duration:   12.5,
		Format:     "wav",
		FileSize:   4096,
	}
	handler := newTestServer(t, &stubJobService{statusJob: record}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/speech/status/session-1", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "session-1", body["session_id"])
	assert.Equal(t, "completed", body["status"])
	assert.InDelta(t, 100, body["progress"], 0.001)
	assert.Equal(t, "/api/speech/download/session-1", body["audio_url"])
}

func TestStatusUnknownSessionReturns404(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		t,
		&stubJobService{statusErr: core.ErrNotFound},
		&stubExtractor{},
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/speech/status/missing", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadServesArtifactBytes(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF fake wav bytes")
	handler := newTestServer(t, &stubJobService{
		artifact: &core.Artifact{
			ID:          "artifact-1.wav",
			Bytes:       audio,
			ContentType: "audio/wav",
			Size:        int64(len(audio)),
		},
	}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/speech/download/session-1", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, audio, rec.Body.Bytes())
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		t,
		&stubJobService{downloadErr: core.ErrInvalidState},
		&stubExtractor{},
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/speech/download/session-1", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech/cancel/session-1", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "cancelled", body["status"])
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		t,
		&stubJobService{cancelErr: core.ErrInvalidState},
		&stubExtractor{},
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech/cancel/session-1", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestVoicesEndpoint(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{
		voices: []core.VoiceDescriptor{
			{ID: "microsoft/speecht5_tts", Label: "Default (SpeechT5)", Backend: "huggingface"},
		},
	}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/speech/voices", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	voices, ok := body["voices"].([]any)
	require.True(t, ok)
	require.Len(t, voices, 1)
}

func TestExtractURLEndpoint(t *testing.T) {
	t.Parallel()

	extractor := &stubExtractor{
		result: &core.ExtractedText{
			Text:      "Extracted article body.",
			WordCount: 3,
			Language:  "en",
			Title:     "An Article",
		},
	}
	handler := newTestServer(t, &stubJobService{}, extractor)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/content/extract",
		strings.NewReader(`{"url":"https://example.com/article"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Extracted article body.", body["extracted_text"])
	assert.Equal(t, "An Article", body["title"])
}

func TestExtractMissingURLRejected(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubJobService{}, &stubExtractor{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/content/extract",
		strings.NewReader(`{}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractFailureMapsToUnprocessable(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		t,
		&stubJobService{},
		&stubExtractor{err: core.ErrExtractionFailed},
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/content/extract",
		strings.NewReader(`{"url":"https://example.com/x"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExtractUnavailableMapsToBadGateway(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		t,
		&stubJobService{},
		&stubExtractor{err: core.ErrAdapterUnavailable},
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/content/extract",
		strings.NewReader(`{"url":"https://example.com/x"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}
