// Package schemaregistry resolves Avro writer schemas from a Confluent-style
// schema registry and deserializes messages carried in the 5-byte wire
// envelope (magic byte + big-endian schema ID).
package schemaregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hamba/avro/v2"
	"golang.org/x/sync/singleflight"

	"github.com/streamparse/docflow/pkg/config"
	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// Client fetches schemas by ID over HTTP with basic auth. Parsed schemas are
// cached forever (registry schema IDs are immutable) and concurrent fetches
// of the same ID are collapsed through singleflight.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	httpc     *http.Client
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[int]avro.Schema
	group singleflight.Group
}

// NewClient creates a registry client from config.
func NewClient(cfg config.SchemaRegistryConfig) *Client {
	return &Client{
		baseURL:   cfg.URL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default().With("component", "schema-registry"),
		cache:     make(map[int]avro.Schema),
	}
}

// SchemaByID returns the parsed Avro schema registered under id.
func (c *Client) SchemaByID(ctx context.Context, id int) (avro.Schema, error) {
	c.mu.RLock()
	schema, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("schema-%d", id), func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(avro.Schema), nil
}

func (c *Client) fetch(ctx context.Context, id int) (avro.Schema, error) {
	url := fmt.Sprintf("%s/schemas/ids/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrTransient, "building registry request: %v", err)
	}
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, c.apiSecret)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrTransient, "fetching schema %d: %v", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrTransient, "reading registry response: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch, "schema %d not registered", id)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Newf(apperrors.ErrTransient, "registry returned %d for schema %d", resp.StatusCode, id)
	}

	var payload struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch, "decoding registry response for schema %d: %v", id, err)
	}
	schema, err := avro.Parse(payload.Schema)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch, "parsing schema %d: %v", id, err)
	}

	c.mu.Lock()
	c.cache[id] = schema
	c.mu.Unlock()
	c.logger.Debug("schema cached", "id", id)
	return schema, nil
}
