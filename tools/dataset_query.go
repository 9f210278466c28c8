package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forge-ai/forge-kb/llms"
)

// maxDatasetQueryLimit caps how many records a single tool call may pull.
const maxDatasetQueryLimit = 50

// DatasetQueryTool searches stored dataset records. Without arguments it
// lists the available datasets so the model can pick one.
type DatasetQueryTool struct{}

func (t *DatasetQueryTool) Name() string { return "dataset_query" }

func (t *DatasetQueryTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Type: "function",
		Function: llms.ToolFunction{
			Name:        "dataset_query",
			Description: "Search and query saved dataset records. Use this to find specific data from previously saved datasets, filter records, or retrieve structured information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dataset_id": map[string]any{
						"type":        "string",
						"description": "UUID of the dataset to query. If not specified, searches across all datasets.",
					},
					"search_text": map[string]any{
						"type":        "string",
						"description": "Text to search for within record data (case-insensitive substring match)",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of records to return (default: 10)",
						"default":     10,
					},
				},
				"required": []string{},
			},
		},
	}
}

func (t *DatasetQueryTool) Execute(ctx context.Context, args map[string]any, ec *ExecutionContext) (string, error) {
	if ec.Backend == nil {
		return "Error: database not available", nil
	}

	datasetID, _ := args["dataset_id"].(string)
	searchText, _ := args["search_text"].(string)
	limit := intArg(args, "limit", 10)
	if limit > maxDatasetQueryLimit {
		limit = maxDatasetQueryLimit
	}

	if datasetID == "" && searchText == "" {
		datasets, counts, err := ec.Backend.ListDatasets(ctx)
		if err != nil {
			return fmt.Sprintf("Dataset query error: %v", err), nil
		}
		if len(datasets) == 0 {
			return "No datasets found. Save some data from the Datasets page first.", nil
		}
		var b strings.Builder
		b.WriteString("Available datasets:\n\n")
		for _, d := range datasets {
			fmt.Fprintf(&b, "  - %s (id: %s, records: %d)\n", d.Name, d.ID, counts[d.ID])
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	hits, err := ec.Backend.SearchRecords(ctx, datasetID, searchText, limit)
	if err != nil {
		return fmt.Sprintf("Dataset query error: %v", err), nil
	}
	if len(hits) == 0 {
		return "No records found matching the criteria.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d record(s):\n\n", len(hits))
	for i, hit := range hits {
		data := string(hit.Data)
		if len(data) > 500 {
			data = data[:500] + "..."
		}
		label := ""
		if hit.Label != "" {
			label = fmt.Sprintf(" [%s]", hit.Label)
		}
		fmt.Fprintf(&b, "--- Record %d (dataset: %s)%s ---\n%s\n\n", i+1, hit.DatasetName, label, data)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
