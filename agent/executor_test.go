package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/tools"
)

// chatScript serves scripted /v1/chat/completions bodies in order.
func chatScript(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Less(t, i, len(bodies), "more LLM calls than scripted responses")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, bodies[i])
		i++
	}))
}

func textResponse(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func toolCallResponse(name, arguments string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":%q,"arguments":%q}}]}}]}`, name, arguments)
}

// echoTool returns its "text" argument back.
type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Type:     "function",
		Function: llms.ToolFunction{Name: "echo", Parameters: map[string]any{"type": "object"}},
	}
}
func (echoTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecutionContext) (string, error) {
	text, _ := args["text"].(string)
	return "echo: " + text, nil
}

func reactConfig() *config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.SelectedModel = "test-model"
	cfg.PromptTemplate = "{{question}}"
	cfg.AgentMode = config.ModeReact
	cfg.EnabledTools = []string{"echo"}
	cfg.MaxIterations = 3
	return &cfg
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func typedEvents(events []Event) []string {
	var names []string
	for _, ev := range events {
		if ev.Type != "" {
			names = append(names, ev.Type)
		}
	}
	return names
}

func TestExecuteSimpleStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req llms.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "what is 2+2?", req.Messages[len(req.Messages)-1].Content)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The answer \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is 4\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := config.DefaultAgentConfig()
	cfg.SelectedModel = "test-model"
	cfg.PromptTemplate = "what is {{q}}?"

	exec := New(Options{Config: &cfg, LLM: llms.NewClient(srv.URL + "/v1")})
	events := collect(exec.Execute(context.Background(), map[string]string{"q": "2+2"}, true))

	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsDone())
	assert.Equal(t, "The answer is 4", exec.FullText())
	assert.Equal(t, "what is 2+2?", exec.PromptText())

	// Upstream chunks pass through as bare data frames.
	for _, ev := range events[:len(events)-1] {
		assert.Empty(t, ev.Type)
		assert.Contains(t, string(ev.Raw), "delta")
	}
}

func TestExecuteSimpleNonStreaming(t *testing.T) {
	body := `{"id":"cmpl-abc123","object":"chat.completion","created":1712345678,"model":"qwen3","choices":[{"index":0,"message":{"role":"assistant","content":"four"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`
	srv := chatScript(t, body)
	defer srv.Close()

	cfg := config.DefaultAgentConfig()
	cfg.SelectedModel = "test-model"
	cfg.PromptTemplate = "question"

	exec := New(Options{Config: &cfg, LLM: llms.NewClient(srv.URL + "/v1")})
	events := collect(exec.Execute(context.Background(), nil, false))

	// The upstream body passes through byte for byte, envelope included.
	require.Len(t, events, 1)
	assert.Equal(t, body, string(events[0].Raw))
	assert.Equal(t, "four", exec.FullText())
}

func TestExecuteSimpleUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model loading"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.DefaultAgentConfig()
	cfg.SelectedModel = "test-model"
	cfg.PromptTemplate = "question"

	exec := New(Options{Config: &cfg, LLM: llms.NewClient(srv.URL + "/v1")})
	events := collect(exec.Execute(context.Background(), nil, false))

	require.Len(t, events, 1)
	var probe map[string]string
	require.NoError(t, json.Unmarshal(events[0].Raw, &probe))
	assert.Contains(t, probe["error"], "model loading")
}

func TestExecuteReactToolLoop(t *testing.T) {
	srv := chatScript(t,
		toolCallResponse("echo", `{"text":"ping"}`),
		textResponse("final answer"),
	)
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	cfg := reactConfig()
	exec := New(Options{
		Config:   cfg,
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Registry: registry,
	})
	events := collect(exec.Execute(context.Background(), map[string]string{"question": "hi"}, true))

	assert.Equal(t, []string{
		"agent_start",
		"iteration_start",
		"tool_call",
		"tool_result",
		"iteration_start",
		"final_answer_start",
		"stream",
		"agent_done",
	}, typedEvents(events))
	assert.True(t, events[len(events)-1].IsDone())

	assert.Equal(t, "final answer", exec.FullText())
	assert.Equal(t, 2, exec.Iterations())
	require.Len(t, exec.ToolCalls(), 1)
	assert.Equal(t, "echo", exec.ToolCalls()[0].Tool)
	assert.Equal(t, "echo: ping", exec.ToolCalls()[0].Result)
	assert.Equal(t, 1, exec.ToolCalls()[0].Iteration)
}

func TestExecuteReactUnknownTool(t *testing.T) {
	srv := chatScript(t,
		toolCallResponse("nonexistent", `{}`),
		textResponse("done"),
	)
	defer srv.Close()

	cfg := reactConfig()
	exec := New(Options{
		Config:   cfg,
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Registry: tools.NewRegistry(),
	})
	events := collect(exec.Execute(context.Background(), nil, true))

	var toolResult map[string]any
	for _, ev := range events {
		if ev.Type == "tool_result" {
			toolResult = ev.Data.(map[string]any)
		}
	}
	require.NotNil(t, toolResult)
	assert.Equal(t, "Unknown tool: nonexistent", toolResult["result"])
}

func TestExecuteReactMaxIterations(t *testing.T) {
	srv := chatScript(t,
		toolCallResponse("echo", `{"text":"a"}`),
		toolCallResponse("echo", `{"text":"b"}`),
	)
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	cfg := reactConfig()
	cfg.MaxIterations = 2
	exec := New(Options{
		Config:   cfg,
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Registry: registry,
	})
	events := collect(exec.Execute(context.Background(), nil, true))

	names := typedEvents(events)
	require.NotEmpty(t, names)
	assert.Equal(t, "error", names[len(names)-1])
	assert.True(t, events[len(events)-1].IsDone())

	var errData map[string]any
	for _, ev := range events {
		if ev.Type == "error" {
			errData = ev.Data.(map[string]any)
		}
	}
	assert.Equal(t, "Max iterations (2) reached without final answer", errData["message"])
}

func TestExecuteReactLLMError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	cfg := reactConfig()
	exec := New(Options{
		Config:   cfg,
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Registry: registry,
	})
	events := collect(exec.Execute(context.Background(), nil, true))

	names := typedEvents(events)
	assert.Equal(t, "error", names[len(names)-1])
	// LLM failures abort the stream without a terminator.
	assert.False(t, events[len(events)-1].IsDone())
}

func TestReactAppendsToolGuidanceToSystemPrompt(t *testing.T) {
	var firstRequest llms.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstRequest.Messages == nil {
			json.NewDecoder(r.Body).Decode(&firstRequest)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	cfg := reactConfig()
	cfg.SystemPrompt = "You are helpful."
	exec := New(Options{
		Config:   cfg,
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Registry: registry,
	})
	collect(exec.Execute(context.Background(), nil, true))

	require.NotEmpty(t, firstRequest.Messages)
	system := firstRequest.Messages[0]
	require.Equal(t, "system", system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "You are helpful."))
	assert.Contains(t, system.Content, "You have access to tools.")
}

func TestHistoryPayloads(t *testing.T) {
	srv := chatScript(t,
		toolCallResponse("echo", `{"text":"x"}`),
		textResponse("the end"),
	)
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	cfg := reactConfig()
	exec := New(Options{
		Config:    cfg,
		AgentID:   "agent-1",
		AgentName: "Tester",
		LLM:       llms.NewClient(srv.URL + "/v1"),
		Registry:  registry,
	})
	collect(exec.Execute(context.Background(), map[string]string{"question": "q"}, true))

	request, response := exec.HistoryPayloads(map[string]string{"question": "q"})

	agentInfo := request["agent"].(map[string]any)
	assert.Equal(t, "agent-1", agentInfo["id"])
	assert.Equal(t, "Tester", agentInfo["name"])
	assert.Equal(t, []string{"echo"}, request["tools_used"])
	assert.Equal(t, 2, request["iterations"])

	assert.Equal(t, "the end", response["text"])
	assert.Equal(t, false, response["truncated"])
	require.Len(t, response["tool_calls"].([]ToolCallRecord), 1)
}

func TestEventEncode(t *testing.T) {
	typed := Typed("tool_call", map[string]any{"tool": "echo"})
	assert.Equal(t, "event: tool_call\ndata: {\"tool\":\"echo\"}\n\n", string(typed.Encode()))

	raw := RawFrame([]byte(`{"x":1}`))
	assert.Equal(t, "data: {\"x\":1}\n\n", string(raw.Encode()))

	done := Done()
	assert.True(t, done.IsDone())
	assert.Equal(t, "data: [DONE]\n\n", string(done.Encode()))
	assert.False(t, RawFrame([]byte("{}")).IsDone())
}
