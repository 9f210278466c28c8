// Package embedders provides the client for the upstream OpenAI-compatible
// embeddings API, including embedding-model auto-discovery via /models.
package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	embedTimeout    = 30 * time.Second
	discoverTimeout = 10 * time.Second
)

// Client talks to an OpenAI-compatible embeddings endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithModel pins the embedding model, skipping discovery.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// NewClient creates an embedding client for the given base URL (e.g.
// "http://host:8011/v1").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: embedTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured endpoint base.
func (c *Client) BaseURL() string { return c.baseURL }

// Model returns the pinned or last-discovered model id.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// DiscoverModel fetches /models and returns the first model id, caching it
// on the client. Single-model backends (the common deployment) expose
// exactly one entry.
func (c *Client) DiscoverModel(ctx context.Context) (string, error) {
	if c.model != "" {
		return c.model, nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, string(raw))
	}

	var decoded modelsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode models response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return "", fmt.Errorf("embedding backend lists no models")
	}

	c.model = decoded.Data[0].ID
	return c.model, nil
}

// Embed returns the dense vector for the given input text. The model is
// discovered on first use when not pinned.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	model, err := c.DiscoverModel(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, string(raw))
	}

	var decoded embedResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vectors")
	}
	return decoded.Data[0].Embedding, nil
}
