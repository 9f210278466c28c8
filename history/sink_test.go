package history

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge-kb/store"
)

type captureWriter struct {
	entries []*store.HistoryEntry
}

func (w *captureWriter) InsertHistory(_ context.Context, e *store.HistoryEntry) (bool, error) {
	w.entries = append(w.entries, e)
	return true, nil
}

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	assert.Regexp(t, regexp.MustCompile(`^req_\d+_[0-9a-f]{6}$`), id)
	assert.NotEqual(t, id, NewID())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0ms", FormatDuration(0))
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "999ms", FormatDuration(999*time.Millisecond))
	assert.Equal(t, "1.0s", FormatDuration(time.Second))
	assert.Equal(t, "1.3s", FormatDuration(1300*time.Millisecond))
	assert.Equal(t, "12.5s", FormatDuration(12500*time.Millisecond))
}

func TestWriteSyncEntryFields(t *testing.T) {
	writer := &captureWriter{}
	sink := NewSink(writer)

	err := sink.WriteSync(context.Background(), Record{
		Model:           "gpt-x",
		Status:          200,
		Prompt:          "how do I reset my vpn",
		Output:          "Open the portal and click reset.",
		Elapsed:         420 * time.Millisecond,
		RequestPayload:  map[string]any{"agent": "a1"},
		ResponsePayload: map[string]any{"text": "Open the portal and click reset."},
	})
	require.NoError(t, err)
	require.Len(t, writer.entries, 1)

	e := writer.entries[0]
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/v1/chat/completions", e.Endpoint)
	assert.Equal(t, "gpt-x", e.Model)
	assert.Equal(t, "420ms", e.Duration)
	assert.Equal(t, 200, e.Status)
	assert.Equal(t, "OK", e.StatusText)
	assert.Equal(t, "Open the portal and click reset.", e.Preview)
	assert.Equal(t, -1, e.WorkflowStep)
	assert.Greater(t, e.Tokens, 0)

	var req map[string]any
	require.NoError(t, json.Unmarshal(e.RequestPayload, &req))
	assert.Equal(t, "a1", req["agent"])
}

func TestWriteSyncErrorRun(t *testing.T) {
	writer := &captureWriter{}
	sink := NewSink(writer)

	require.NoError(t, sink.WriteSync(context.Background(), Record{
		Status: 502,
		Output: "",
	}))
	e := writer.entries[0]
	assert.Equal(t, "Error", e.StatusText)
	assert.Equal(t, "Error", e.Preview)
}

func TestWriteSyncPreviewTruncation(t *testing.T) {
	writer := &captureWriter{}
	sink := NewSink(writer)

	long := strings.Repeat("a", 400)
	require.NoError(t, sink.WriteSync(context.Background(), Record{Status: 200, Output: long}))
	assert.Len(t, writer.entries[0].Preview, 150)
}

func TestWriteSyncCustomEndpointAndWorkflow(t *testing.T) {
	writer := &captureWriter{}
	sink := NewSink(writer)

	require.NoError(t, sink.WriteSync(context.Background(), Record{
		Endpoint:     "/v1/embeddings",
		Status:       200,
		Output:       "ok",
		WorkflowID:   "wf-1",
		WorkflowName: "Pipeline",
		WorkflowStep: 2,
	}))
	e := writer.entries[0]
	assert.Equal(t, "/v1/embeddings", e.Endpoint)
	assert.Equal(t, "wf-1", e.WorkflowID)
	assert.Equal(t, "Pipeline", e.WorkflowName)
	assert.Equal(t, 2, e.WorkflowStep)
}

func TestEstimateTokensNonZero(t *testing.T) {
	n := EstimateTokens("a short question", "a somewhat longer answer about the question")
	assert.Greater(t, n, 0)
	assert.Equal(t, 0, EstimateTokens("", ""))
}
