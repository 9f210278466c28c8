package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/store"
)

// SubAgentTool runs another saved agent to completion and returns its
// output, enabling multi-agent delegation. Nesting is capped at
// config.MaxSubAgentDepth to prevent runaway recursion.
type SubAgentTool struct{}

func (t *SubAgentTool) Name() string { return "sub_agent" }

func (t *SubAgentTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Type: "function",
		Function: llms.ToolFunction{
			Name:        "sub_agent",
			Description: "Run another saved agent as a sub-task. Use this to delegate specialized work to other agents, enabling multi-agent collaboration. The sub-agent runs to completion and returns its output.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{
						"type":        "string",
						"description": "UUID of the agent to run",
					},
					"agent_name": map[string]any{
						"type":        "string",
						"description": "Name of the agent to run (used if agent_id not provided, matches by name)",
					},
					"variables": map[string]any{
						"type":                 "object",
						"description":          "Variable values to pass to the sub-agent (key-value pairs)",
						"additionalProperties": map[string]any{"type": "string"},
					},
				},
				"required": []string{},
			},
		},
	}
}

func (t *SubAgentTool) Execute(ctx context.Context, args map[string]any, ec *ExecutionContext) (string, error) {
	if ec.Backend == nil {
		return "Error: database not available", nil
	}
	if ec.Depth >= config.MaxSubAgentDepth {
		return fmt.Sprintf("Error: Maximum sub-agent nesting depth (%d) reached. Cannot call more sub-agents.", config.MaxSubAgentDepth), nil
	}

	agentID, _ := args["agent_id"].(string)
	agentName, _ := args["agent_name"].(string)

	variables := map[string]string{}
	if raw, ok := args["variables"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				variables[k] = s
			} else if v != nil {
				variables[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	if agentID == "" && agentName != "" {
		agent, err := ec.Backend.GetAgentByName(ctx, agentName)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Error: No agent found with name '%s'", agentName), nil
		}
		if err != nil {
			return fmt.Sprintf("Sub-agent execution error: %v", err), nil
		}
		agentID = agent.ID
	}

	if agentID == "" {
		agents, err := ec.Backend.ListAgents(ctx)
		if err != nil {
			return fmt.Sprintf("Sub-agent execution error: %v", err), nil
		}
		if len(agents) == 0 {
			return "No agents available. Create agents from the Playground first.", nil
		}
		var b strings.Builder
		b.WriteString("Available agents (provide agent_id or agent_name):\n\n")
		for i, a := range agents {
			if i >= 10 {
				break
			}
			desc := ""
			if a.Description != "" {
				desc = " - " + a.Description
			}
			fmt.Fprintf(&b, "  - %s (id: %s)%s\n", a.Name, a.ID, desc)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	if ec.RunSubAgent == nil {
		return "Error: sub-agent execution not available in this context", nil
	}

	result, err := ec.RunSubAgent(ctx, agentID, variables, ec.Depth+1)
	if err != nil {
		return fmt.Sprintf("Sub-agent execution error: %v", err), nil
	}
	return result, nil
}
