package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentConfigDefaults(t *testing.T) {
	cfg, err := ParseAgentConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 0.9, cfg.TopP)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 1.0, cfg.RepetitionPenalty)
	assert.Equal(t, ModeSimple, cfg.AgentMode)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.RAGTopK)
	assert.Equal(t, 0.3, cfg.RAGThreshold)
}

func TestParseAgentConfigOverrides(t *testing.T) {
	cfg, err := ParseAgentConfig([]byte(`{
		"selectedModel": "qwen3",
		"temperature": 0.2,
		"agentMode": "react",
		"enabledTools": ["kb_search"],
		"ragEnabled": true,
		"ragSources": ["KB"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "qwen3", cfg.SelectedModel)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.True(t, cfg.IsReact())
	assert.True(t, cfg.RAGEnabled)
}

func TestParseAgentConfigJSONModeWinsOverThinking(t *testing.T) {
	cfg, err := ParseAgentConfig([]byte(`{"jsonMode": true, "thinking": true}`))
	require.NoError(t, err)

	assert.True(t, cfg.JSONMode)
	assert.False(t, cfg.Thinking)
}

func TestParseAgentConfigBadJSON(t *testing.T) {
	_, err := ParseAgentConfig([]byte(`{nope`))
	assert.Error(t, err)
}

func TestValidateRequiresModelAndTemplate(t *testing.T) {
	cfg := DefaultAgentConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model")

	cfg.SelectedModel = "m"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promptTemplate")

	cfg.PromptTemplate = "{{question}}"
	assert.NoError(t, cfg.Validate())
}

func TestMergeVariablesRequestWins(t *testing.T) {
	cfg := DefaultAgentConfig()
	cfg.Variables = []AgentVariable{
		{Name: "topic", DefaultValue: "default topic"},
		{Name: "tone", DefaultValue: "neutral"},
	}

	merged := cfg.MergeVariables(map[string]string{"topic": "vpn", "extra": "x"})
	assert.Equal(t, "vpn", merged["topic"])
	assert.Equal(t, "neutral", merged["tone"])
	assert.Equal(t, "x", merged["extra"])
}

func TestStopList(t *testing.T) {
	cfg := DefaultAgentConfig()
	assert.Nil(t, cfg.StopList())

	cfg.StopSequences = " END , , STOP,"
	assert.Equal(t, []string{"END", "STOP"}, cfg.StopList())
}

func TestIsReactNeedsTools(t *testing.T) {
	cfg := DefaultAgentConfig()
	cfg.AgentMode = ModeReact
	assert.False(t, cfg.IsReact())

	cfg.EnabledTools = []string{"kb_search"}
	assert.True(t, cfg.IsReact())

	cfg.AgentMode = ModeSimple
	assert.False(t, cfg.IsReact())
}
