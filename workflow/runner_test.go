package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge-kb/agent"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/store"
	"github.com/forge-ai/forge-kb/tools"
)

type fakeLoader struct {
	agents map[string]*store.SavedAgent
}

func (f *fakeLoader) GetAgent(_ context.Context, id string) (*store.SavedAgent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

// chatBackend streams one scripted completion per call, echoing a per-call
// marker so tests can tell steps apart, and records the prompts it saw.
type chatBackend struct {
	mu      sync.Mutex
	prompts []string
}

func (b *chatBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req llms.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		prompt := req.Messages[len(req.Messages)-1].Content
		b.mu.Lock()
		b.prompts = append(b.prompts, prompt)
		n := len(b.prompts)
		b.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"out%d\"}}]}\n\n", n)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func savedAgent(id, name string) *store.SavedAgent {
	return &store.SavedAgent{
		ID:     id,
		Name:   name,
		Config: []byte(`{"selectedModel":"m","promptTemplate":"{{text}}"}`),
	}
}

func workflowWithSteps(t *testing.T, steps []Step) *store.SavedWorkflow {
	t.Helper()
	blob, err := json.Marshal(steps)
	require.NoError(t, err)
	return &store.SavedWorkflow{ID: "wf-1", Name: "Pipeline", Steps: blob}
}

func collectEvents(ch <-chan agent.Event) []agent.Event {
	var events []agent.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []agent.Event) []string {
	var names []string
	for _, ev := range events {
		if ev.Type != "" {
			names = append(names, ev.Type)
		}
	}
	return names
}

func findEvent(events []agent.Event, eventType string) map[string]any {
	for _, ev := range events {
		if ev.Type == eventType {
			return ev.Data.(map[string]any)
		}
	}
	return nil
}

func TestRunPipesPrevOutputBetweenSteps(t *testing.T) {
	backend := &chatBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	loader := &fakeLoader{agents: map[string]*store.SavedAgent{
		"a1": savedAgent("a1", "Drafter"),
		"a2": savedAgent("a2", "Editor"),
	}}
	runner := NewRunner(Deps{
		LLM:    llms.NewClient(srv.URL + "/v1"),
		Loader: loader,
	})

	wf := workflowWithSteps(t, []Step{
		{ID: "s1", AgentID: "a1", VariableMappings: map[string]string{"text": "{{input:topic}}"}},
		{ID: "s2", AgentID: "a2", VariableMappings: map[string]string{"text": "{{prev_output}}"}},
	})
	events := collectEvents(runner.Run(context.Background(), wf, map[string]string{"topic": "vpn setup"}))

	assert.Equal(t, []string{
		"step_start", "step_stream", "step_done",
		"step_start", "step_stream", "step_done",
		"workflow_done",
	}, eventTypes(events))
	assert.True(t, events[len(events)-1].IsDone())

	// Step 2's prompt is step 1's full output.
	assert.Equal(t, []string{"vpn setup", "out1"}, backend.prompts)

	done := findEvent(events, "workflow_done")
	assert.Equal(t, 2, done["total_steps"])
	outputs := done["step_outputs"].(map[string]string)
	assert.Equal(t, "out1", outputs["s1"])
	assert.Equal(t, "out2", outputs["s2"])
}

func TestRunStepRefMapping(t *testing.T) {
	backend := &chatBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	loader := &fakeLoader{agents: map[string]*store.SavedAgent{
		"a1": savedAgent("a1", "First"),
		"a2": savedAgent("a2", "Second"),
		"a3": savedAgent("a3", "Third"),
	}}
	runner := NewRunner(Deps{LLM: llms.NewClient(srv.URL + "/v1"), Loader: loader})

	wf := workflowWithSteps(t, []Step{
		{ID: "s1", AgentID: "a1", VariableMappings: map[string]string{"text": "seed"}},
		{ID: "s2", AgentID: "a2", VariableMappings: map[string]string{"text": "ignored"}},
		{ID: "s3", AgentID: "a3", VariableMappings: map[string]string{"text": "{{step:s1}}"}},
	})
	collectEvents(runner.Run(context.Background(), wf, nil))

	require.Len(t, backend.prompts, 3)
	assert.Equal(t, "out1", backend.prompts[2])
}

func TestRunFailedStepYieldsEmptyPrevOutput(t *testing.T) {
	backend := &chatBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	loader := &fakeLoader{agents: map[string]*store.SavedAgent{
		"a2": savedAgent("a2", "Second"),
	}}
	runner := NewRunner(Deps{LLM: llms.NewClient(srv.URL + "/v1"), Loader: loader})

	wf := workflowWithSteps(t, []Step{
		{ID: "s1", AgentID: "missing", VariableMappings: map[string]string{"text": "x"}},
		{ID: "s2", AgentID: "a2", VariableMappings: map[string]string{"text": "{{prev_output}}"}},
	})
	events := collectEvents(runner.Run(context.Background(), wf, nil))

	// Failed load emits step_error only, no step_start or step_done for s1.
	assert.Equal(t, []string{
		"step_error",
		"step_start", "step_stream", "step_done",
		"workflow_done",
	}, eventTypes(events))

	stepErr := findEvent(events, "step_error")
	assert.Equal(t, "s1", stepErr["step_id"])
	assert.Equal(t, 0, stepErr["step_index"])
	assert.Contains(t, stepErr["message"], "failed to load agent missing")

	// The surviving step got an empty prev_output, not the failure text.
	assert.Equal(t, []string{""}, backend.prompts)
}

func TestRunScopesChildEvents(t *testing.T) {
	// One scripted tool-call turn followed by a final answer exercises the
	// react event re-emission path.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		calls++
		if calls == 1 {
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"nope","arguments":"{}"}}]}}]}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`)
	}))
	defer srv.Close()

	reactAgent := &store.SavedAgent{
		ID:   "a1",
		Name: "Agentic",
		Config: []byte(`{"selectedModel":"m","promptTemplate":"go","agentMode":"react",` +
			`"enabledTools":["kb_search"],"maxIterations":3}`),
	}
	loader := &fakeLoader{agents: map[string]*store.SavedAgent{"a1": reactAgent}}
	runner := NewRunner(Deps{
		LLM:      llms.NewClient(srv.URL + "/v1"),
		Loader:   loader,
		Registry: tools.NewRegistry(),
	})

	wf := workflowWithSteps(t, []Step{{ID: "s1", AgentID: "a1"}})
	events := collectEvents(runner.Run(context.Background(), wf, nil))

	names := eventTypes(events)
	assert.Contains(t, names, "step_agent_start")
	assert.Contains(t, names, "step_tool_call")
	assert.Contains(t, names, "step_tool_result")
	assert.Contains(t, names, "step_agent_done")
	assert.Contains(t, names, "step_done")

	toolCall := findEvent(events, "step_tool_call")
	assert.Equal(t, "s1", toolCall["step_id"])
	assert.Equal(t, 0, toolCall["step_index"])
	assert.Equal(t, "nope", toolCall["tool"])
}

func TestRunInvalidStepsBlob(t *testing.T) {
	runner := NewRunner(Deps{})
	wf := &store.SavedWorkflow{ID: "wf-1", Name: "Broken", Steps: []byte("not json")}
	events := collectEvents(runner.Run(context.Background(), wf, nil))

	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].Type)
	assert.True(t, events[1].IsDone())
}

func TestParseRawChunk(t *testing.T) {
	content, errMsg, ok := parseRawChunk([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	assert.True(t, ok)
	assert.Equal(t, "hi", content)
	assert.Empty(t, errMsg)

	content, errMsg, ok = parseRawChunk([]byte(`{"choices":[{"message":{"content":"full"}}]}`))
	assert.True(t, ok)
	assert.Equal(t, "full", content)

	_, errMsg, ok = parseRawChunk([]byte(`{"error":"upstream down"}`))
	assert.True(t, ok)
	assert.Equal(t, "upstream down", errMsg)

	_, _, ok = parseRawChunk([]byte(`not json`))
	assert.False(t, ok)

	_, _, ok = parseRawChunk([]byte(`{"id":"x"}`))
	assert.False(t, ok)
}
