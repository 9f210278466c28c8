// Package llms provides the thin adapter for the upstream OpenAI-compatible
// chat-completions API: a request builder mapping agent generation parameters
// to the wire format, a non-streaming call, and a streaming SSE reader.
package llms

import (
	"encoding/json"
	"strconv"

	"github.com/forge-ai/forge-kb/config"
)

// Message is a chat message in the upstream wire format. Assistant messages
// carrying tool calls and tool-result messages round-trip through this type
// unchanged.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Index    *int         `json:"index,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the call's argument blob. Malformed arguments yield
// an empty map, mirroring how the loop tolerates sloppy model output.
func (f FunctionCall) ParseArguments() map[string]any {
	args := map[string]any{}
	if f.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// ToolDefinition is an OpenAI function-call tool schema.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function to the model.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ResponseFormat forces the model's output shape.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the upstream request payload.
type ChatRequest struct {
	Model              string           `json:"model"`
	Messages           []Message        `json:"messages"`
	Temperature        float64          `json:"temperature"`
	TopP               float64          `json:"top_p"`
	MaxTokens          int              `json:"max_tokens"`
	Stream             bool             `json:"stream"`
	TopK               int              `json:"top_k,omitempty"`
	PresencePenalty    float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty   float64          `json:"frequency_penalty,omitempty"`
	RepetitionPenalty  *float64         `json:"repetition_penalty,omitempty"`
	Seed               *int             `json:"seed,omitempty"`
	Stop               []string         `json:"stop,omitempty"`
	ResponseFormat     *ResponseFormat  `json:"response_format,omitempty"`
	Tools              []ToolDefinition `json:"tools,omitempty"`
	ToolChoice         string           `json:"tool_choice,omitempty"`
	ChatTemplateKwargs map[string]any   `json:"chat_template_kwargs,omitempty"`
}

// BuildChatRequest maps an agent's generation parameters onto the wire
// format. Temperature, top_p and max_tokens are always present; top_k only
// when positive; penalties only when off-neutral; seed only when parseable;
// stop as the non-empty comma-split list. enable_thinking always mirrors the
// (conflict-resolved) thinking flag.
func BuildChatRequest(cfg *config.AgentConfig, messages []Message, stream bool) ChatRequest {
	req := ChatRequest{
		Model:       cfg.SelectedModel,
		Messages:    messages,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	}
	if cfg.TopK > 0 {
		req.TopK = cfg.TopK
	}
	if cfg.PresencePenalty != 0 {
		req.PresencePenalty = cfg.PresencePenalty
	}
	if cfg.FrequencyPenalty != 0 {
		req.FrequencyPenalty = cfg.FrequencyPenalty
	}
	if cfg.RepetitionPenalty != 1.0 {
		rp := cfg.RepetitionPenalty
		req.RepetitionPenalty = &rp
	}
	if cfg.Seed != "" {
		if seed, err := strconv.Atoi(cfg.Seed); err == nil {
			req.Seed = &seed
		}
	}
	req.Stop = cfg.StopList()
	if cfg.JSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	req.ChatTemplateKwargs = map[string]any{"enable_thinking": cfg.Thinking}
	return req
}

// ChatResponse is the decoded non-streaming response body. Raw holds the
// undecoded upstream bytes so callers can pass the body through verbatim.
type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`

	Raw []byte `json:"-"`
}

// FirstMessage returns choices[0].message, or a zero Message when absent.
func (r *ChatResponse) FirstMessage() Message {
	if len(r.Choices) == 0 {
		return Message{}
	}
	return r.Choices[0].Message
}

// Choice is one response candidate.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is the upstream error envelope.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// streamResponse is one decoded streaming chunk.
type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	Error   *APIError      `json:"error,omitempty"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is one unit yielded by GenerateStreaming.
//
// Raw holds the upstream frame payload verbatim (the bytes after "data: ")
// so simple-mode runs can re-emit frames unchanged. Content is the extracted
// delta text, ToolCalls any tool-call deltas (surfaced for observability, not
// consumed by the loop). Done marks the [DONE] terminator; Err a transport or
// upstream error.
type StreamChunk struct {
	Raw       []byte
	Content   string
	ToolCalls []ToolCall
	Done      bool
	Err       error
}
