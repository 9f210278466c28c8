package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Agent execution modes.
const (
	ModeSimple = "simple"
	ModeReact  = "react"
)

// MaxSubAgentDepth is the hard cap on nested sub-agent invocations.
const MaxSubAgentDepth = 3

// AgentVariable declares a template variable with an optional default value.
type AgentVariable struct {
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue"`
}

// SourceConfig carries per-source retrieval overrides.
type SourceConfig struct {
	TopK      int     `json:"topK"`
	Threshold float64 `json:"threshold"`
}

// AgentConfig is the durable agent entity consumed by the executor. It is
// stored as a JSONB blob in saved_agents; the field tags match the stored
// camelCase keys.
type AgentConfig struct {
	// Generation parameters.
	SelectedModel     string  `json:"selectedModel"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"topP"`
	TopK              int     `json:"topK"`
	MaxTokens         int     `json:"maxTokens"`
	PresencePenalty   float64 `json:"presencePenalty"`
	FrequencyPenalty  float64 `json:"frequencyPenalty"`
	RepetitionPenalty float64 `json:"repetitionPenalty"`
	Seed              string  `json:"seed"`
	StopSequences     string  `json:"stopSequences"`

	// Output shaping. JSONMode wins over Thinking when both are set.
	Thinking bool `json:"thinking"`
	JSONMode bool `json:"jsonMode"`

	// Template surface.
	SystemPrompt   string          `json:"systemPrompt"`
	PromptTemplate string          `json:"promptTemplate"`
	Variables      []AgentVariable `json:"variables"`

	// Streaming preference for simple mode; the run request may override.
	Stream *bool `json:"stream,omitempty"`

	// Agentic policy.
	AgentMode     string   `json:"agentMode"`
	EnabledTools  []string `json:"enabledTools"`
	MaxIterations int      `json:"maxIterations"`

	// Retrieval policy.
	RAGEnabled       bool                    `json:"ragEnabled"`
	RAGTopK          int                     `json:"ragTopK"`
	RAGThreshold     float64                 `json:"ragThreshold"`
	RAGSources       []string                `json:"ragSources"`
	RAGSourceAliases map[string]string       `json:"ragSourceAliases"`
	RAGSourceConfig  map[string]SourceConfig `json:"ragSourceConfig"`
}

// DefaultAgentConfig returns an AgentConfig with all defaults pre-set.
// Unmarshal stored blobs into this value so absent keys keep their defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Temperature:       0.7,
		TopP:              0.9,
		MaxTokens:         2048,
		RepetitionPenalty: 1.0,
		AgentMode:         ModeSimple,
		MaxIterations:     10,
		RAGTopK:           3,
		RAGThreshold:      0.3,
	}
}

// ParseAgentConfig decodes a stored agent config blob, applying defaults for
// absent keys and resolving the thinking/jsonMode conflict.
func ParseAgentConfig(blob []byte) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse agent config: %w", err)
		}
	}
	// Thinking tags break strict JSON parsing.
	if cfg.JSONMode && cfg.Thinking {
		cfg.Thinking = false
	}
	return cfg, nil
}

// Validate checks the fields required to start a run. Failures here map to
// 400-class responses with no history row.
func (c *AgentConfig) Validate() error {
	if c.SelectedModel == "" {
		return fmt.Errorf("agent has no model configured")
	}
	if c.PromptTemplate == "" {
		return fmt.Errorf("agent has no promptTemplate configured")
	}
	return nil
}

// DefaultVariables returns the declared variable defaults as a map.
func (c *AgentConfig) DefaultVariables() map[string]string {
	vars := make(map[string]string, len(c.Variables))
	for _, v := range c.Variables {
		if v.Name != "" {
			vars[v.Name] = v.DefaultValue
		}
	}
	return vars
}

// MergeVariables merges request-supplied values over config defaults.
func (c *AgentConfig) MergeVariables(requestVars map[string]string) map[string]string {
	merged := c.DefaultVariables()
	for k, v := range requestVars {
		merged[k] = v
	}
	return merged
}

// StopList splits the comma-separated stop string into a trimmed list.
func (c *AgentConfig) StopList() []string {
	if c.StopSequences == "" {
		return nil
	}
	var stops []string
	for _, s := range strings.Split(c.StopSequences, ",") {
		if s = strings.TrimSpace(s); s != "" {
			stops = append(stops, s)
		}
	}
	return stops
}

// IsReact reports whether the agent runs the tool-calling loop. React mode
// without any enabled tools degrades to a simple run.
func (c *AgentConfig) IsReact() bool {
	return c.AgentMode == ModeReact && len(c.EnabledTools) > 0
}
