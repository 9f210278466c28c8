package agent

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/rag"
	"github.com/forge-ai/forge-kb/store"
	"github.com/forge-ai/forge-kb/template"
	"github.com/forge-ai/forge-kb/tools"
)

// toolSystemSuffix is appended to the system prompt when tools are enabled.
const toolSystemSuffix = "\n\nYou have access to tools. Use them when you need external information or actions. " +
	"When you have enough information to answer, respond directly without calling tools. " +
	"Think step by step about what information you need and which tools to use."

// Truncation bounds for tool results in history records and SSE frames.
const (
	toolResultHistoryMax = 500
	toolResultEventMax   = 2000
)

// AgentLoader fetches saved agents for sub-agent delegation; *store.Store
// satisfies it.
type AgentLoader interface {
	GetAgent(ctx context.Context, id string) (*store.SavedAgent, error)
}

// ToolCallRecord is one executed tool call, kept for the history payload.
type ToolCallRecord struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"`
	Iteration int            `json:"iteration"`
}

// Options wires an Executor.
type Options struct {
	Config    *config.AgentConfig
	AgentID   string
	AgentName string

	LLM      *llms.Client
	RAG      *rag.Engine
	Registry *tools.Registry

	Backend  tools.Backend
	Embedder tools.Embedder
	Loader   AgentLoader

	Depth int

	WorkflowID   string
	WorkflowName string
	WorkflowStep int
}

// Executor runs one agent invocation. It is single-use: Execute may be
// called once, and the accessor methods are valid only after the returned
// channel has closed.
type Executor struct {
	cfg      *config.AgentConfig
	opts     Options
	resolver *template.Resolver

	messages   []llms.Message
	fullText   string
	toolCalls  []ToolCallRecord
	iterations int
	ragDebug   map[string]rag.SourceDebug
	startTime  time.Time
}

// New builds an Executor from options. WorkflowStep defaults to -1 for
// standalone runs.
func New(opts Options) *Executor {
	reserved := []string{template.ContextVariable}
	if opts.Config.RAGEnabled {
		for _, source := range opts.Config.RAGSources {
			alias := opts.Config.RAGSourceAliases[source]
			if alias == "" {
				alias = rag.SourceToVar(source)
			}
			reserved = append(reserved, alias)
		}
	}
	return &Executor{
		cfg:      opts.Config,
		opts:     opts,
		resolver: template.NewResolver(reserved...),
	}
}

// Execute starts the run and returns its event stream. react mode always
// streams typed events; simple mode honors the stream flag.
func (e *Executor) Execute(ctx context.Context, variables map[string]string, stream bool) <-chan Event {
	ch := make(chan Event, 100)
	go func() {
		defer close(ch)
		if e.cfg.IsReact() {
			e.executeReact(ctx, ch, variables)
		} else {
			e.executeSimple(ctx, ch, variables, stream)
		}
	}()
	return ch
}

// prepare resolves templates and retrieval, then builds the initial message
// list. extraSystem is appended to the system prompt before messages are
// assembled.
func (e *Executor) prepare(ctx context.Context, variables map[string]string, extraSystem string) {
	merged := e.cfg.MergeVariables(variables)

	prompt := e.resolver.Resolve(e.cfg.PromptTemplate, merged)
	system := e.resolver.Resolve(e.cfg.SystemPrompt, merged)

	if e.opts.RAG != nil {
		res := e.opts.RAG.Resolve(ctx, e.cfg, prompt, system, merged)
		prompt, system = res.Prompt, res.SystemPrompt
		if len(res.Debug) > 0 {
			e.ragDebug = res.Debug
		}
	}

	system += extraSystem

	e.messages = nil
	if strings.TrimSpace(system) != "" {
		e.messages = append(e.messages, llms.Message{Role: "system", Content: system})
	}
	e.messages = append(e.messages, llms.Message{Role: "user", Content: prompt})
	e.startTime = time.Now()
}

func (e *Executor) executeSimple(ctx context.Context, ch chan<- Event, variables map[string]string, stream bool) {
	e.prepare(ctx, variables, "")

	if stream {
		chunks, err := e.opts.LLM.GenerateStreaming(ctx, llms.BuildChatRequest(e.cfg, e.messages, true))
		if err != nil {
			ch <- RawJSON(map[string]string{"error": err.Error()})
			return
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				ch <- RawJSON(map[string]string{"error": chunk.Err.Error()})
				return
			}
			if chunk.Done {
				ch <- Done()
				continue
			}
			if len(chunk.Raw) > 0 {
				ch <- RawFrame(chunk.Raw)
			}
			e.fullText += chunk.Content
		}
		return
	}

	resp, err := e.opts.LLM.Generate(ctx, llms.BuildChatRequest(e.cfg, e.messages, false))
	if err != nil {
		ch <- RawJSON(map[string]string{"error": err.Error()})
		return
	}
	e.fullText = resp.FirstMessage().Content
	ch <- RawFrame(resp.Raw)
}

func (e *Executor) executeReact(ctx context.Context, ch chan<- Event, variables map[string]string) {
	toolDefs := e.opts.Registry.Definitions(e.cfg.EnabledTools)

	extraSystem := ""
	if len(toolDefs) > 0 {
		extraSystem = toolSystemSuffix
	}
	e.prepare(ctx, variables, extraSystem)

	execCtx := &tools.ExecutionContext{
		Backend:     e.opts.Backend,
		Embedder:    e.opts.Embedder,
		Depth:       e.opts.Depth,
		RunSubAgent: e.runSubAgent,
	}

	ch <- Typed("agent_start", map[string]any{
		"mode":           config.ModeReact,
		"max_iterations": e.cfg.MaxIterations,
		"tools":          e.cfg.EnabledTools,
	})

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		e.iterations = iteration

		ch <- Typed("iteration_start", map[string]any{"iteration": iteration})

		// Non-streaming call so tool calls arrive fully assembled.
		req := llms.BuildChatRequest(e.cfg, e.messages, false)
		if len(toolDefs) > 0 {
			req.Tools = toolDefs
			req.ToolChoice = "auto"
		}
		resp, err := e.opts.LLM.Generate(ctx, req)
		if err != nil {
			ch <- Typed("error", map[string]any{"message": err.Error(), "iteration": iteration})
			return
		}

		message := resp.FirstMessage()
		if len(message.ToolCalls) == 0 {
			// No tool calls means this is the final answer.
			e.fullText = message.Content
			ch <- Typed("final_answer_start", map[string]any{"iteration": iteration})
			if message.Content != "" {
				ch <- Typed("stream", map[string]any{"content": message.Content})
			}
			ch <- Typed("agent_done", map[string]any{
				"iterations":       iteration,
				"tools_used":       e.toolsUsed(),
				"total_tool_calls": len(e.toolCalls),
			})
			ch <- Done()
			return
		}

		e.messages = append(e.messages, message)

		for _, tc := range message.ToolCalls {
			name := tc.Function.Name
			args := tc.Function.ParseArguments()
			callID := tc.ID
			if callID == "" {
				id := uuid.New()
				callID = "call_" + hex.EncodeToString(id[:4])
			}

			ch <- Typed("tool_call", map[string]any{
				"iteration": iteration,
				"tool":      name,
				"args":      args,
				"call_id":   callID,
			})

			var result string
			if tool, ok := e.opts.Registry.Get(name); ok {
				var execErr error
				result, execErr = tool.Execute(ctx, args, execCtx)
				if execErr != nil {
					result = fmt.Sprintf("Tool execution error: %v", execErr)
				}
			} else {
				result = fmt.Sprintf("Unknown tool: %s", name)
			}

			e.toolCalls = append(e.toolCalls, ToolCallRecord{
				Tool:      name,
				Args:      args,
				Result:    truncate(result, toolResultHistoryMax),
				Iteration: iteration,
			})

			ch <- Typed("tool_result", map[string]any{
				"iteration": iteration,
				"tool":      name,
				"call_id":   callID,
				"result":    truncate(result, toolResultEventMax),
			})

			e.messages = append(e.messages, llms.Message{
				Role:       "tool",
				ToolCallID: callID,
				Content:    result,
			})
		}
	}

	ch <- Typed("error", map[string]any{
		"message":    fmt.Sprintf("Max iterations (%d) reached without final answer", e.cfg.MaxIterations),
		"iterations": e.cfg.MaxIterations,
	})
	ch <- Done()
}

// runSubAgent executes a saved agent to completion in simple mode and
// returns its final text. Sub-agents never run the tool loop, which keeps
// delegation chains shallow and predictable.
func (e *Executor) runSubAgent(ctx context.Context, agentID string, variables map[string]string, depth int) (string, error) {
	if e.opts.Loader == nil {
		return "Error: sub-agent execution not available in this context", nil
	}

	saved, err := e.opts.Loader.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("Error: Sub-agent %s not found", agentID), nil
	}
	if err != nil {
		return "", err
	}

	subCfg, err := config.ParseAgentConfig(saved.Config)
	if err != nil {
		return "", err
	}
	subCfg.AgentMode = config.ModeSimple

	sub := New(Options{
		Config:    &subCfg,
		AgentID:   saved.ID,
		AgentName: saved.Name,
		LLM:       e.opts.LLM,
		RAG:       e.opts.RAG,
		Registry:  e.opts.Registry,
		Backend:   e.opts.Backend,
		Embedder:  e.opts.Embedder,
		Loader:    e.opts.Loader,
		Depth:     depth,
	})

	for range sub.Execute(ctx, variables, false) {
	}

	if sub.fullText == "" {
		return "(Sub-agent returned no output)", nil
	}
	return sub.fullText, nil
}

// FullText returns the accumulated final answer.
func (e *Executor) FullText() string { return e.fullText }

// PromptText returns the resolved user prompt, for token accounting.
func (e *Executor) PromptText() string {
	for i := len(e.messages) - 1; i >= 0; i-- {
		if e.messages[i].Role == "user" {
			return e.messages[i].Content
		}
	}
	return ""
}

// Iterations returns how many loop iterations ran.
func (e *Executor) Iterations() int { return e.iterations }

// Elapsed returns the wall time since the run started.
func (e *Executor) Elapsed() time.Duration { return time.Since(e.startTime) }

// ToolCalls returns the recorded tool invocations.
func (e *Executor) ToolCalls() []ToolCallRecord { return e.toolCalls }

func (e *Executor) toolsUsed() []string {
	used := make([]string, 0, len(e.toolCalls))
	for _, tc := range e.toolCalls {
		used = append(used, tc.Tool)
	}
	return used
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
