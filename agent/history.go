package agent

// maxHistoryText caps the response text stored per run.
const maxHistoryText = 50000

// HistoryPayloads builds the request/response blobs recorded for this run.
// Valid once the event stream has closed.
func (e *Executor) HistoryPayloads(variables map[string]string) (map[string]any, map[string]any) {
	request := map[string]any{
		"messages": e.messages,
		"params": map[string]any{
			"model":       e.cfg.SelectedModel,
			"temperature": e.cfg.Temperature,
			"max_tokens":  e.cfg.MaxTokens,
			"agent_mode":  e.cfg.AgentMode,
		},
		"agent": map[string]any{
			"id":   e.opts.AgentID,
			"name": e.opts.AgentName,
		},
		"variables": variables,
	}

	if len(e.cfg.EnabledTools) > 0 {
		request["tools_used"] = e.toolsUsed()
		request["iterations"] = e.iterations
	}

	if e.cfg.RAGEnabled {
		request["rag"] = map[string]any{
			"enabled":   true,
			"topK":      e.cfg.RAGTopK,
			"threshold": e.cfg.RAGThreshold,
			"sources":   e.cfg.RAGSources,
		}
		if len(e.ragDebug) > 0 {
			request["rag_debug"] = e.ragDebug
		}
	}

	if e.opts.WorkflowID != "" {
		request["workflow"] = map[string]any{
			"id":   e.opts.WorkflowID,
			"name": e.opts.WorkflowName,
			"step": e.opts.WorkflowStep,
		}
	}

	response := map[string]any{
		"text":      truncate(e.fullText, maxHistoryText),
		"truncated": len([]rune(e.fullText)) > maxHistoryText,
	}
	if len(e.toolCalls) > 0 {
		response["tool_calls"] = e.toolCalls
	}

	return request, response
}
