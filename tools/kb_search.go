package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forge-ai/forge-kb/llms"
)

// KBSearchTool performs semantic search over the knowledge base.
type KBSearchTool struct{}

func (t *KBSearchTool) Name() string { return "kb_search" }

func (t *KBSearchTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Type: "function",
		Function: llms.ToolFunction{
			Name:        "kb_search",
			Description: "Search the Knowledge Base for relevant documents using semantic similarity. Use this when you need to find information from stored documents, manuals, or any previously indexed content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query to find relevant documents",
					},
					"top_k": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return (default: 5)",
						"default":     5,
					},
					"threshold": map[string]any{
						"type":        "number",
						"description": "Minimum similarity threshold 0-1 (default: 0.3)",
						"default":     0.3,
					},
					"sources": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional list of source labels to filter results",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *KBSearchTool) Execute(ctx context.Context, args map[string]any, ec *ExecutionContext) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "Error: query is required", nil
	}
	if ec.Backend == nil || ec.Embedder == nil {
		return "Error: KB search context not configured", nil
	}

	topK := intArg(args, "top_k", 5)
	threshold := floatArg(args, "threshold", 0.3)
	var sources []string
	if raw, ok := args["sources"].([]any); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				sources = append(sources, str)
			}
		}
	}

	embedding, err := ec.Embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Sprintf("KB search error: %v", err), nil
	}

	rows, err := ec.Backend.SemanticSearch(ctx, embedding, threshold, topK, sources)
	if err != nil {
		return fmt.Sprintf("KB search error: %v", err), nil
	}

	if len(rows) == 0 {
		return fmt.Sprintf("No documents found matching '%s' with threshold >= %g", query, threshold), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant document(s):\n\n", len(rows))
	for i, row := range rows {
		sourceInfo := ""
		if row.SourceLabel != "" {
			sourceInfo = fmt.Sprintf(" [source: %s]", row.SourceLabel)
		}
		fmt.Fprintf(&b, "--- Result %d (similarity: %.3f)%s ---\n%s\n\n", i+1, row.Similarity, sourceInfo, row.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
