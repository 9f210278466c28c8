package tools

import (
	"context"

	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/store"
)

// Tool is a capability the reasoning loop can invoke. Execute returns the
// text handed back to the model as the tool result; expected failures
// (missing arguments, empty result sets, upstream errors the model should
// see) are reported in that text, while err covers unexpected execution
// failures.
type Tool interface {
	Name() string
	Definition() llms.ToolDefinition
	Execute(ctx context.Context, args map[string]any, ec *ExecutionContext) (string, error)
}

// Backend is the persistence surface tools query; *store.Store satisfies it.
type Backend interface {
	SemanticSearch(ctx context.Context, embedding []float32, threshold float64, topK int, sourceLabels []string) ([]store.SearchResult, error)
	SearchRecords(ctx context.Context, datasetID, search string, limit int) ([]store.RecordHit, error)
	ListDatasets(ctx context.Context) ([]store.Dataset, map[string]int, error)
	ListAgents(ctx context.Context) ([]store.SavedAgent, error)
	GetAgentByName(ctx context.Context, name string) (*store.SavedAgent, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// SubAgentRunner executes a saved agent to completion and returns its final
// text. depth is the nesting level of the run being started.
type SubAgentRunner func(ctx context.Context, agentID string, variables map[string]string, depth int) (string, error)

// ExecutionContext carries the dependencies a tool may need. Fields a tool
// does not use may be left zero; each tool reports what it is missing.
type ExecutionContext struct {
	Backend     Backend
	Embedder    Embedder
	Depth       int
	RunSubAgent SubAgentRunner
}
