// Package extract provides the HTTP client for the external content
// extraction service. Extraction internals (article scraping, PDF parsing)
// live behind the service boundary; this adapter only owns the retry/timeout
// contract and the failure taxonomy.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/web2speech/internal/core"
)

// API endpoints and paths.
const (
	apiExtractURL = "/v1/extract/url"
	apiExtractPDF = "/v1/extract/pdf"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	contentTypePDF    = "application/pdf"
)

// Client is an HTTP client for the standalone extraction service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// urlRequest is the JSON payload for URL extraction requests.
type urlRequest struct {
	URL string `json:"url"`
}

// errorResponse is the structured error body returned by the service.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the extraction service. The baseURL should
// include the protocol and port (e.g. "http://localhost:8100").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ExtractURL fetches and extracts the readable content of an article URL.
func (c *Client) ExtractURL(ctx context.Context, url string) (*core.ExtractedText, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: url cannot be empty", core.ErrInvalidParameter)
	}

	requestBody, err := json.Marshal(urlRequest{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	return c.post(ctx, apiExtractURL, contentTypeJSON, bytes.NewReader(requestBody))
}

// ExtractPDF extracts the text content of an uploaded PDF.
func (c *Client) ExtractPDF(ctx context.Context, data []byte) (*core.ExtractedText, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: pdf payload cannot be empty", core.ErrInvalidParameter)
	}

	return c.post(ctx, apiExtractPDF, contentTypePDF, bytes.NewReader(data))
}

// HealthCheck verifies that the extraction service is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for extraction service at %s: %w", c.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: extraction service health returned %s", core.ErrAdapterUnavailable, resp.Status)
	}

	return nil
}

func (c *Client) post(
	ctx context.Context,
	path, contentType string,
	body io.Reader,
) (*core.ExtractedText, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp)
	}

	var extracted core.ExtractedText

	err = json.NewDecoder(resp.Body).Decode(&extracted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	if extracted.Text == "" {
		return nil, fmt.Errorf("%w: service returned empty text", core.ErrExtractionFailed)
	}

	return &extracted, nil
}

// classifyTransportError maps network-level failures onto the adapter error
// taxonomy. Deadline hits become timeouts; everything else is transient.
func classifyTransportError(baseURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: extraction service at %s: %v", core.ErrAdapterTimeout, baseURL, err)
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("extraction request cancelled: %w", err)
	}

	return fmt.Errorf("%w: extraction service at %s: %v", core.ErrAdapterUnavailable, baseURL, err)
}

// classifyStatusError maps non-OK responses onto the adapter error taxonomy.
// 4xx responses are permanent extraction failures (unreachable source, corrupt
// PDF, unsupported encoding); 5xx and 429 are transient.
func classifyStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var serviceErr errorResponse

	detail := string(body)
	if json.Unmarshal(body, &serviceErr) == nil && serviceErr.Detail != "" {
		detail = serviceErr.Detail
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: extraction service returned %s: %s",
			core.ErrAdapterUnavailable, resp.Status, detail)
	}

	return fmt.Errorf("%w: %s (%s)", core.ErrExtractionFailed, detail, resp.Status)
}
