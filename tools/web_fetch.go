package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/forge-ai/forge-kb/llms"
)

const (
	webFetchTimeout      = 30 * time.Second
	webFetchMaxRedirects = 5
	webFetchMaxChars     = 8000
)

// WebFetchTool retrieves external URLs for the model.
type WebFetchTool struct {
	// Client overrides the default HTTP client, used by tests.
	Client *http.Client
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Type: "function",
		Function: llms.ToolFunction{
			Name:        "web_fetch",
			Description: "Fetch content from a URL. Returns the text content of the page. Use this to retrieve external information, API responses, or web page content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "The URL to fetch content from",
					},
					"method": map[string]any{
						"type":        "string",
						"description": "HTTP method (GET or POST, default: GET)",
						"enum":        []string{"GET", "POST"},
						"default":     "GET",
					},
					"headers": map[string]any{
						"type":        "object",
						"description": "Optional HTTP headers to send",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "Optional request body for POST requests",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}

func (t *WebFetchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{
		Timeout: webFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= webFetchMaxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, ec *ExecutionContext) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "Error: url is required", nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "Error: URL must start with http:// or https://", nil
	}

	method := "GET"
	if m, ok := args["method"].(string); ok && strings.EqualFold(m, "POST") {
		method = "POST"
	}

	var body io.Reader
	if b, ok := args["body"].(string); ok && method == "POST" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Sprintf("Web fetch error: %v", err), nil
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			return fmt.Sprintf("Error: Request to %s timed out after 30 seconds", url), nil
		}
		return fmt.Sprintf("Web fetch error: %v", err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Web fetch error: %v", err), nil
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "json"):
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err == nil {
			text = pretty.String()
		} else {
			text = string(raw)
		}
	case strings.Contains(contentType, "html"):
		text = stripHTMLTags(string(raw))
	default:
		text = string(raw)
	}

	if len(text) > webFetchMaxChars {
		text = text[:webFetchMaxChars] + fmt.Sprintf("\n\n... [truncated, total %d chars]", len(raw))
	}

	return fmt.Sprintf("HTTP %d from %s\n\n%s", resp.StatusCode, url, text), nil
}

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockTagPattern    = regexp.MustCompile(`(?i)<(br|p|div|h[1-6]|li|tr)[^>]*/?>`)
	anyTagPattern      = regexp.MustCompile(`<[^>]+>`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// stripHTMLTags is a rough HTML to text conversion, good enough to feed a
// page into a prompt.
func stripHTMLTags(html string) string {
	html = scriptStylePattern.ReplaceAllString(html, "")
	html = blockTagPattern.ReplaceAllString(html, "\n")
	html = anyTagPattern.ReplaceAllString(html, "")
	replacer := strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&nbsp;", " ")
	html = replacer.Replace(html)
	html = blankRunPattern.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
