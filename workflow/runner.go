package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forge-ai/forge-kb/agent"
	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/history"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/rag"
	"github.com/forge-ai/forge-kb/store"
	"github.com/forge-ai/forge-kb/tools"
)

// stepOutputPreviewLen caps per-step output previews in workflow_done.
const stepOutputPreviewLen = 200

// Step is one workflow stage: an agent plus the mappings that feed its
// variables from earlier outputs and caller inputs.
type Step struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agent_id"`
	VariableMappings map[string]string `json:"variable_mappings"`
}

// ParseSteps decodes a stored workflow's steps blob.
func ParseSteps(blob []byte) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(blob, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse workflow steps: %w", err)
	}
	return steps, nil
}

// Deps wires a Runner with everything its child executors need.
type Deps struct {
	LLM      *llms.Client
	RAG      *rag.Engine
	Registry *tools.Registry
	Backend  tools.Backend
	Embedder tools.Embedder
	Loader   agent.AgentLoader
	History  *history.Sink
}

// Runner executes workflows sequentially, forwarding each step's events
// with step scoping. A failed step does not abort the run: it yields an
// empty prev_output and the next step proceeds.
type Runner struct {
	deps Deps
}

// NewRunner builds a Runner.
func NewRunner(deps Deps) *Runner {
	return &Runner{deps: deps}
}

// Run starts the workflow and returns its event stream.
func (r *Runner) Run(ctx context.Context, wf *store.SavedWorkflow, inputs map[string]string) <-chan agent.Event {
	ch := make(chan agent.Event, 100)
	go func() {
		defer close(ch)
		r.run(ctx, ch, wf, inputs)
	}()
	return ch
}

func (r *Runner) run(ctx context.Context, ch chan<- agent.Event, wf *store.SavedWorkflow, inputs map[string]string) {
	steps, err := ParseSteps(wf.Steps)
	if err != nil {
		ch <- agent.Typed("error", map[string]any{"message": err.Error()})
		ch <- agent.Done()
		return
	}

	prevOutput := ""
	stepOutputs := map[string]string{}

	for idx, step := range steps {
		output, ok := r.runStep(ctx, ch, wf, step, idx, prevOutput, stepOutputs, inputs)
		stepOutputs[step.ID] = output
		if ok {
			prevOutput = output
		} else {
			prevOutput = ""
		}
	}

	previews := make(map[string]string, len(stepOutputs))
	for id, output := range stepOutputs {
		previews[id] = truncate(output, stepOutputPreviewLen)
	}
	ch <- agent.Typed("workflow_done", map[string]any{
		"total_steps":  len(steps),
		"step_outputs": previews,
	})
	ch <- agent.Done()
}

// runStep executes one step end to end. It returns the step's output text
// and whether the step succeeded.
func (r *Runner) runStep(ctx context.Context, ch chan<- agent.Event, wf *store.SavedWorkflow, step Step, idx int, prevOutput string, stepOutputs, inputs map[string]string) (string, bool) {
	saved, err := r.deps.Loader.GetAgent(ctx, step.AgentID)
	if err != nil {
		r.failStep(ch, wf, step, idx, fmt.Sprintf("failed to load agent %s: %v", step.AgentID, err))
		return "", false
	}

	cfg, err := config.ParseAgentConfig(saved.Config)
	if err != nil {
		r.failStep(ch, wf, step, idx, err.Error())
		return "", false
	}
	if err := cfg.Validate(); err != nil {
		r.failStep(ch, wf, step, idx, err.Error())
		return "", false
	}

	ch <- agent.Typed("step_start", map[string]any{
		"step_id":    step.ID,
		"step_index": idx,
		"agent_name": saved.Name,
	})

	vars := ResolveMappings(step.VariableMappings, prevOutput, stepOutputs, inputs)

	exec := agent.New(agent.Options{
		Config:       &cfg,
		AgentID:      saved.ID,
		AgentName:    saved.Name,
		LLM:          r.deps.LLM,
		RAG:          r.deps.RAG,
		Registry:     r.deps.Registry,
		Backend:      r.deps.Backend,
		Embedder:     r.deps.Embedder,
		Loader:       r.deps.Loader,
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		WorkflowStep: idx,
	})

	failed := false
	for ev := range exec.Execute(ctx, vars, true) {
		if ev.IsDone() {
			continue
		}
		if ev.Type == "" {
			// Raw simple-mode chunk: unwrap into a step_stream delta.
			if content, errMsg, ok := parseRawChunk(ev.Raw); ok {
				if errMsg != "" {
					failed = true
					ch <- agent.Typed("step_error", map[string]any{
						"step_id":    step.ID,
						"step_index": idx,
						"message":    errMsg,
					})
				} else if content != "" {
					ch <- agent.Typed("step_stream", map[string]any{
						"step_id":    step.ID,
						"step_index": idx,
						"content":    content,
					})
				}
			}
			continue
		}
		if ev.Type == "error" {
			failed = true
		}
		ch <- scoped(ev, step.ID, idx)
	}

	output := exec.FullText()
	if !failed {
		ch <- agent.Typed("step_done", map[string]any{
			"step_id":    step.ID,
			"step_index": idx,
		})
	}

	r.logStep(exec, &cfg, wf, idx, vars, failed)
	return output, !failed
}

// failStep reports a step that never reached execution and records it.
func (r *Runner) failStep(ch chan<- agent.Event, wf *store.SavedWorkflow, step Step, idx int, message string) {
	ch <- agent.Typed("step_error", map[string]any{
		"step_id":    step.ID,
		"step_index": idx,
		"message":    message,
	})
	if r.deps.History != nil {
		r.deps.History.Write(history.Record{
			Status:          500,
			Output:          "",
			RequestPayload:  map[string]any{"step_id": step.ID, "agent_id": step.AgentID},
			ResponsePayload: map[string]any{"error": message},
			WorkflowID:      wf.ID,
			WorkflowName:    wf.Name,
			WorkflowStep:    idx,
		})
	}
}

func (r *Runner) logStep(exec *agent.Executor, cfg *config.AgentConfig, wf *store.SavedWorkflow, idx int, vars map[string]string, failed bool) {
	if r.deps.History == nil {
		return
	}
	status := 200
	if failed {
		status = 500
	}
	reqPayload, resPayload := exec.HistoryPayloads(vars)
	r.deps.History.Write(history.Record{
		Model:           cfg.SelectedModel,
		Status:          status,
		Prompt:          exec.PromptText(),
		Output:          exec.FullText(),
		Elapsed:         exec.Elapsed(),
		RequestPayload:  reqPayload,
		ResponsePayload: resPayload,
		WorkflowID:      wf.ID,
		WorkflowName:    wf.Name,
		WorkflowStep:    idx,
	})
}

// scoped re-emits a child event with its type prefixed and step identity
// injected into the payload.
func scoped(ev agent.Event, stepID string, idx int) agent.Event {
	data := map[string]any{
		"step_id":    stepID,
		"step_index": idx,
	}
	if m, ok := ev.Data.(map[string]any); ok {
		for k, v := range m {
			data[k] = v
		}
	}
	return agent.Typed("step_"+ev.Type, data)
}

// parseRawChunk extracts the delta text or error message from an upstream
// streaming payload. ok is false for frames that carry neither.
func parseRawChunk(raw []byte) (content, errMsg string, ok bool) {
	var chunk struct {
		Error   any `json:"error"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", "", false
	}
	if chunk.Error != nil {
		return "", fmt.Sprintf("%v", chunk.Error), true
	}
	if len(chunk.Choices) == 0 {
		return "", "", false
	}
	if c := chunk.Choices[0].Delta.Content; c != "" {
		return c, "", true
	}
	return chunk.Choices[0].Message.Content, "", true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
