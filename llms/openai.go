package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a chat-completion call, streaming or not.
const DefaultTimeout = 300 * time.Second

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a chat client for the given base URL (e.g.
// "http://host:8010/v1").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured endpoint base.
func (c *Client) BaseURL() string { return c.baseURL }

// Generate makes a non-streaming chat-completion call and returns the
// decoded body.
func (c *Client) Generate(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	request.Stream = false

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if apiErr := parseErrorBody(raw); apiErr != nil {
			return nil, fmt.Errorf("chat backend returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("chat backend returned %d: %s", resp.StatusCode, string(raw))
	}

	var decoded ChatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("chat backend error: %s", decoded.Error.Message)
	}
	decoded.Raw = raw
	return &decoded, nil
}

// GenerateStreaming makes a streaming chat-completion call and returns a
// channel of chunks. Only "data: " lines are parsed; the stream stops at
// [DONE]; malformed JSON chunks are skipped silently. The channel is closed
// when the upstream stream ends or ctx is cancelled.
func (c *Client) GenerateStreaming(ctx context.Context, request ChatRequest) (<-chan StreamChunk, error) {
	request.Stream = true

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorBody(raw); apiErr != nil {
			return nil, fmt.Errorf("chat backend returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("chat backend returned %d: %s", resp.StatusCode, string(raw))
	}

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					out <- StreamChunk{Err: fmt.Errorf("failed to read stream: %w", err)}
				}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			payload := line[6:]

			if bytes.Equal(payload, []byte("[DONE]")) {
				out <- StreamChunk{Done: true}
				return
			}

			var chunk streamResponse
			if err := json.Unmarshal(payload, &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- StreamChunk{Err: fmt.Errorf("chat backend error: %s", chunk.Error.Message)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta
			select {
			case out <- StreamChunk{
				Raw:       append([]byte(nil), payload...),
				Content:   delta.Content,
				ToolCalls: delta.ToolCalls,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func parseErrorBody(body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Error
}
