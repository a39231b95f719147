// Package parser is the client for the hosted document-parsing service. It
// uploads raw document bytes and returns the extracted text as ordered
// chunks, one per page.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/streamparse/docflow/internal/pipeline"
	"github.com/streamparse/docflow/pkg/config"
	apperrors "github.com/streamparse/docflow/pkg/errors"
	"github.com/streamparse/docflow/pkg/resilience"
)

// Client calls the parse service over HTTP. Each call carries a timeout;
// rate-limit responses are retried with backoff, permanent parse failures
// are not. All calls pass through a circuit breaker so a misbehaving service
// fails fast instead of stalling the whole batch.
type Client struct {
	baseURL    string
	apiKey     string
	httpc      *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// parseResponse is the service's JSON result shape.
type parseResponse struct {
	Pages []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"pages"`
}

// New creates a parse service client from config.
func New(cfg config.ParserConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpc:      &http.Client{},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		breaker:    resilience.NewCircuitBreaker("parse-service", resilience.CircuitBreakerConfig{}),
		logger:     slog.Default().With("component", "parser"),
	}
}

// Parse uploads content and returns its extracted chunks. Chunk indices are
// assigned from response order, so they are contiguous from 0 even if the
// service skips page numbers. An empty page text is valid.
func (c *Client) Parse(ctx context.Context, content []byte, displayName string) ([]pipeline.Chunk, error) {
	var chunks []pipeline.Chunk
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  c.maxRetries,
		InitialDelay: c.retryDelay,
		// Only throttling warrants another attempt; malformed documents and
		// infrastructure errors go back to the caller.
		ShouldRetry: func(err error) bool {
			return errors.Is(err, apperrors.ErrRateLimited)
		},
	}

	err := resilience.Retry(ctx, "parse "+displayName, retryCfg, func() error {
		return c.breaker.Execute(func() error {
			var attemptErr error
			chunks, attemptErr = c.parseOnce(ctx, content, displayName)
			return attemptErr
		})
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ParseAndChunk applies the skip policy: any failure is logged and reported
// as an empty chunk set so one bad document never aborts the batch.
func (c *Client) ParseAndChunk(ctx context.Context, doc pipeline.SourceDocument) []pipeline.Chunk {
	chunks, err := c.Parse(ctx, doc.Content, doc.Key)
	if err != nil {
		c.logger.Warn("skipping document, parse failed",
			"key", doc.Key,
			"size", doc.Size,
			"error", err,
		)
		return nil
	}
	return chunks
}

func (c *Client) parseOnce(ctx context.Context, content []byte, displayName string) ([]pipeline.Chunk, error) {
	var result parseResponse
	err := resilience.WithTimeout(ctx, c.timeout, "parse-service call", func(ctx context.Context) error {
		resp, err := c.upload(ctx, content, displayName)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]pipeline.Chunk, len(result.Pages))
	for i, page := range result.Pages {
		chunks[i] = pipeline.Chunk{Index: i, Text: page.Text}
	}
	return chunks, nil
}

func (c *Client) upload(ctx context.Context, content []byte, displayName string) (parseResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", displayName)
	if err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "building upload form: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "writing upload body: %v", err)
	}
	if err := form.WriteField("file_name", displayName); err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "writing upload field: %v", err)
	}
	if err := form.Close(); err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "closing upload form: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "building parse request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "calling parse service: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient, "reading parse response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return parseResponse{}, apperrors.Newf(apperrors.ErrRateLimited,
			"parse service throttled %s", displayName)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return parseResponse{}, apperrors.Newf(apperrors.ErrMalformedInput,
			"parse service rejected %s: %d %s", displayName, resp.StatusCode, truncate(raw, 200))
	case resp.StatusCode != http.StatusOK:
		return parseResponse{}, apperrors.Newf(apperrors.ErrTransient,
			"parse service returned %d for %s", resp.StatusCode, displayName)
	}

	var result parseResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return parseResponse{}, apperrors.Newf(apperrors.ErrMalformedInput,
			"undecodable parse response for %s: %v", displayName, err)
	}
	c.logger.Debug("document parsed",
		"name", displayName,
		"pages", len(result.Pages),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}
