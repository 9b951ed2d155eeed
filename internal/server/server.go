// Package server exposes the web2speech HTTP API.
//
// The HTTP layer is a thin boundary: validation errors surface synchronously
// with 4xx codes, while adapter failures are only visible through job status
// polling. Response shapes match the public API contract.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/book-expert/web2speech/internal/job"
	"github.com/book-expert/web2speech/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

const downloadPrefix = "/api/speech/download/"

// Fallback processing estimate in seconds when the input length is unknown.
const defaultEstimatedDuration = 30

const healthCheckTimeout = 2 * time.Second

// JobService is the orchestrator surface the HTTP layer depends on.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
	Status(jobID string) (*job.Job, error)
	Cancel(jobID string) error
	Download(ctx context.Context, jobID string) (*core.Artifact, error)
	Voices() []core.VoiceDescriptor
}

// Server wires the HTTP routes to the orchestrator and the extractor.
type Server struct {
	jobs           JobService
	extractor      core.Extractor
	maxUploadBytes int64
	extractTimeout time.Duration
	log            *logger.Logger
	engine         *gin.Engine
}

// New creates the HTTP server surface.
func New(
	jobs JobService,
	extractor core.Extractor,
	maxUploadBytes int64,
	extractTimeout time.Duration,
	log *logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		jobs:           jobs,
		extractor:      extractor,
		maxUploadBytes: maxUploadBytes,
		extractTimeout: extractTimeout,
		log:            log,
		engine:         gin.New(),
	}

	server.engine.Use(gin.Recovery())
	server.engine.MaxMultipartMemory = maxUploadBytes

	api := server.engine.Group("/api")
	api.GET("/health", server.handleHealth)
	api.POST("/content/extract", server.handleExtract)
	api.POST("/speech/generate", server.handleGenerate)
	api.GET("/speech/status/:session_id", server.handleStatus)
	api.GET("/speech/download/:session_id", server.handleDownload)
	api.POST("/speech/cancel/:session_id", server.handleCancel)
	api.GET("/speech/voices", server.handleVoices)

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

type generateRequest struct {
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Voice   string  `json:"voice"`
	Speed   float64 `json:"speed"`
}

type generateResponse struct {
	Success           bool   `json:"success"`
	SessionID         string `json:"session_id"`
	Status            string `json:"status"`
	EstimatedDuration int    `json:"estimated_duration"`
	Message           string `json:"message"`
	PollingURL        string `json:"polling_url"`
}

type extractURLRequest struct {
	URL string `json:"url"`
}

// healthChecker is implemented by adapters that can report reachability.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func (s *Server) handleHealth(ginCtx *gin.Context) {
	extractionUp := true

	if checker, ok := s.extractor.(healthChecker); ok {
		ctx, cancel := context.WithTimeout(ginCtx.Request.Context(), healthCheckTimeout)
		defer cancel()

		extractionUp = checker.HealthCheck(ctx) == nil
	}

	ginCtx.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"features": gin.H{
			"text_to_speech":  true,
			"url_extraction":  extractionUp,
			"pdf_processing":  extractionUp,
			"multiple_voices": true,
		},
	})
}

func (s *Server) handleGenerate(ginCtx *gin.Context) {
	submitReq, ok := s.buildSubmitRequest(ginCtx)
	if !ok {
		return
	}

	jobID, err := s.jobs.Submit(ginCtx.Request.Context(), submitReq)
	if err != nil {
		s.writeError(ginCtx, err)

		return
	}

	ginCtx.JSON(http.StatusOK, generateResponse{
		Success:           true,
		SessionID:         jobID,
		Status:            string(job.StateQueued),
		EstimatedDuration: estimateProcessingSeconds(submitReq),
		Message:           "Speech generation started. Use the session_id to check status.",
		PollingURL:        "/api/speech/status/" + jobID,
	})
}

// buildSubmitRequest decodes either a JSON body (text/url) or a multipart PDF
// upload into a submission.
func (s *Server) buildSubmitRequest(ginCtx *gin.Context) (orchestrator.SubmitRequest, bool) {
	if strings.HasPrefix(ginCtx.ContentType(), "multipart/form-data") {
		return s.buildPDFSubmitRequest(ginCtx)
	}

	var req generateRequest

	err := ginCtx.ShouldBindJSON(&req)
	if err != nil {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})

		return orchestrator.SubmitRequest{}, false
	}

	if req.Content == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "No content provided"})

		return orchestrator.SubmitRequest{}, false
	}

	kind := job.InputKind(req.Type)
	if req.Type == "" {
		kind = job.KindText
	}

	return orchestrator.SubmitRequest{
		Kind:    kind,
		Payload: req.Content,
		Voice:   req.Voice,
		Speed:   req.Speed,
	}, true
}

func (s *Server) buildPDFSubmitRequest(ginCtx *gin.Context) (orchestrator.SubmitRequest, bool) {
	data, ok := s.readPDFUpload(ginCtx)
	if !ok {
		return orchestrator.SubmitRequest{}, false
	}

	speed := 0.0

	if raw := ginCtx.PostForm("speed"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			speed = parsed
		}
	}

	return orchestrator.SubmitRequest{
		Kind:  job.KindPDF,
		PDF:   data,
		Voice: ginCtx.PostForm("voice"),
		Speed: speed,
	}, true
}

// readPDFUpload validates and reads the uploaded file. Only .pdf files within
// the configured size limit are accepted.
func (s *Server) readPDFUpload(ginCtx *gin.Context) ([]byte, bool) {
	fileHeader, err := ginCtx.FormFile("file")
	if err != nil {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})

		return nil, false
	}

	if fileHeader.Filename == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})

		return nil, false
	}

	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are supported"})

		return nil, false
	}

	if fileHeader.Size > s.maxUploadBytes {
		ginCtx.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "File too large. Maximum size is " + maxUploadLabel(s.maxUploadBytes) + ".",
		})

		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.writeError(ginCtx, err)

		return nil, false
	}

	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		s.writeError(ginCtx, err)

		return nil, false
	}

	if int64(len(data)) > s.maxUploadBytes {
		ginCtx.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "File too large. Maximum size is " + maxUploadLabel(s.maxUploadBytes) + ".",
		})

		return nil, false
	}

	return data, true
}

func (s *Server) handleStatus(ginCtx *gin.Context) {
	record, err := s.jobs.Status(ginCtx.Param("session_id"))
	if err != nil {
		s.writeError(ginCtx, err)

		return
	}

	ginCtx.JSON(http.StatusOK, record.Snapshot(downloadPrefix))
}

func (s *Server) handleDownload(ginCtx *gin.Context) {
	art, err := s.jobs.Download(ginCtx.Request.Context(), ginCtx.Param("session_id"))
	if err != nil {
		s.writeError(ginCtx, err)

		return
	}

	ginCtx.Data(http.StatusOK, art.ContentType, art.Bytes)
}

func (s *Server) handleCancel(ginCtx *gin.Context) {
	sessionID := ginCtx.Param("session_id")

	err := s.jobs.Cancel(sessionID)
	if err != nil {
		s.writeError(ginCtx, err)

		return
	}

	ginCtx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"status":     string(job.StateCancelled),
	})
}

func (s *Server) handleVoices(ginCtx *gin.Context) {
	ginCtx.JSON(http.StatusOK, gin.H{"voices": s.jobs.Voices()})
}

// handleExtract runs extraction synchronously: the caller gets the extracted
// text back for review before submitting it for synthesis.
func (s *Server) handleExtract(ginCtx *gin.Context) {
	ctx, cancel := context.WithTimeout(ginCtx.Request.Context(), s.extractTimeout)
	defer cancel()

	var (
		extracted *core.ExtractedText
		err       error
	)

	if strings.HasPrefix(ginCtx.ContentType(), "multipart/form-data") {
		data, ok := s.readPDFUpload(ginCtx)
		if !ok {
			return
		}

		extracted, err = s.extractor.ExtractPDF(ctx, data)
	} else {
		var req extractURLRequest

		bindErr := ginCtx.ShouldBindJSON(&req)
		if bindErr != nil || req.URL == "" {
			ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "No URL provided"})

			return
		}

		extracted, err = s.extractor.ExtractURL(ctx, req.URL)
	}

	if err != nil {
		s.writeError(ginCtx, err)

		return
	}

	ginCtx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"extracted_text": extracted.Text,
		"word_count":     extracted.WordCount,
		"language":       extracted.Language,
		"title":          extracted.Title,
		"author":         extracted.Author,
		"publish_date":   extracted.PublishDate,
		"page_count":     extracted.PageCount,
	})
}

// writeError maps domain errors onto HTTP status codes. Internal details are
// logged, never leaked.
func (s *Server) writeError(ginCtx *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		ginCtx.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, core.ErrInvalidState):
		ginCtx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrPayloadTooLarge):
		ginCtx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrUnsupportedVoice),
		errors.Is(err, core.ErrUnsupportedKind),
		errors.Is(err, core.ErrInvalidParameter):
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrExtractionFailed):
		ginCtx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrQueueFull):
		ginCtx.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is busy, try again later"})
	case errors.Is(err, core.ErrAdapterTimeout), errors.Is(err, core.ErrAdapterUnavailable):
		ginCtx.JSON(http.StatusBadGateway, gin.H{"error": "Extraction service unavailable"})
	default:
		s.log.Error("Internal server error: %v", err)
		ginCtx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func maxUploadLabel(maxBytes int64) string {
	return strconv.FormatInt(maxBytes>>20, 10) + "MB"
}

// estimateProcessingSeconds gives callers a rough completion estimate based
// on input length where it is known up front.
func estimateProcessingSeconds(req orchestrator.SubmitRequest) int {
	if req.Kind != job.KindText {
		return defaultEstimatedDuration
	}

	words := len(strings.Fields(req.Payload))
	estimate := words / 25

	if estimate < 5 {
		estimate = 5
	}

	return estimate
}
