package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/store"
)

type fakeBackend struct {
	searchResults []store.SearchResult
	searchErr     error
	hits          []store.RecordHit
	datasets      []store.Dataset
	counts        map[string]int
	agents        []store.SavedAgent
	byName        map[string]*store.SavedAgent

	lastTopK      int
	lastThreshold float64
	lastSources   []string
	lastSearch    string
	lastLimit     int
}

func (f *fakeBackend) SemanticSearch(_ context.Context, _ []float32, threshold float64, topK int, sources []string) ([]store.SearchResult, error) {
	f.lastThreshold = threshold
	f.lastTopK = topK
	f.lastSources = sources
	return f.searchResults, f.searchErr
}

func (f *fakeBackend) SearchRecords(_ context.Context, datasetID, search string, limit int) ([]store.RecordHit, error) {
	f.lastSearch = search
	f.lastLimit = limit
	return f.hits, nil
}

func (f *fakeBackend) ListDatasets(context.Context) ([]store.Dataset, map[string]int, error) {
	return f.datasets, f.counts, nil
}

func (f *fakeBackend) ListAgents(context.Context) ([]store.SavedAgent, error) {
	return f.agents, nil
}

func (f *fakeBackend) GetAgentByName(_ context.Context, name string) (*store.SavedAgent, error) {
	if a, ok := f.byName[name]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

type fixedEmbedder struct{ err error }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

func TestRegistryDefaults(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{"dataset_query", "kb_search", "sub_agent", "web_fetch"}, r.Names())

	defs := r.Definitions([]string{"kb_search", "nope", "web_fetch"})
	require.Len(t, defs, 2)
	assert.Equal(t, "kb_search", defs[0].Function.Name)
	assert.Equal(t, "web_fetch", defs[1].Function.Name)
}

func TestKBSearchFormatsResults(t *testing.T) {
	backend := &fakeBackend{searchResults: []store.SearchResult{
		{Text: "VPN reset guide", Similarity: 0.912, SourceLabel: "ITSM Knowledge Base"},
		{Text: "Password policy", Similarity: 0.455},
	}}
	ec := &ExecutionContext{Backend: backend, Embedder: fixedEmbedder{}}

	out, err := (&KBSearchTool{}).Execute(context.Background(), map[string]any{
		"query": "vpn", "top_k": float64(2), "threshold": 0.4,
		"sources": []any{"ITSM Knowledge Base"},
	}, ec)
	require.NoError(t, err)

	assert.Contains(t, out, "Found 2 relevant document(s):")
	assert.Contains(t, out, "--- Result 1 (similarity: 0.912) [source: ITSM Knowledge Base] ---")
	assert.Contains(t, out, "VPN reset guide")
	assert.Contains(t, out, "--- Result 2 (similarity: 0.455) ---")
	assert.Equal(t, 2, backend.lastTopK)
	assert.Equal(t, 0.4, backend.lastThreshold)
	assert.Equal(t, []string{"ITSM Knowledge Base"}, backend.lastSources)
}

func TestKBSearchNoResults(t *testing.T) {
	ec := &ExecutionContext{Backend: &fakeBackend{}, Embedder: fixedEmbedder{}}
	out, err := (&KBSearchTool{}).Execute(context.Background(), map[string]any{"query": "ghost"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "No documents found matching 'ghost' with threshold >= 0.3", out)
}

func TestKBSearchMissingQuery(t *testing.T) {
	out, err := (&KBSearchTool{}).Execute(context.Background(), map[string]any{}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "Error: query is required", out)
}

func TestKBSearchEmbedFailureIsModelVisible(t *testing.T) {
	ec := &ExecutionContext{Backend: &fakeBackend{}, Embedder: fixedEmbedder{err: errors.New("down")}}
	out, err := (&KBSearchTool{}).Execute(context.Background(), map[string]any{"query": "x"}, ec)
	require.NoError(t, err)
	assert.Contains(t, out, "KB search error:")
}

func TestDatasetQueryListsDatasetsWithoutArgs(t *testing.T) {
	backend := &fakeBackend{
		datasets: []store.Dataset{{ID: "d1", Name: "Tickets"}},
		counts:   map[string]int{"d1": 12},
	}
	out, err := (&DatasetQueryTool{}).Execute(context.Background(), map[string]any{}, &ExecutionContext{Backend: backend})
	require.NoError(t, err)
	assert.Contains(t, out, "Available datasets:")
	assert.Contains(t, out, "Tickets (id: d1, records: 12)")
}

func TestDatasetQueryTruncatesLongRecords(t *testing.T) {
	long := strings.Repeat("x", 600)
	backend := &fakeBackend{hits: []store.RecordHit{
		{DatasetName: "Tickets", Data: []byte(long), Label: "row"},
	}}
	out, err := (&DatasetQueryTool{}).Execute(context.Background(),
		map[string]any{"search_text": "x", "limit": float64(99)}, &ExecutionContext{Backend: backend})
	require.NoError(t, err)

	assert.Contains(t, out, "Found 1 record(s):")
	assert.Contains(t, out, "(dataset: Tickets) [row]")
	assert.Contains(t, out, strings.Repeat("x", 500)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 501))
	assert.Equal(t, maxDatasetQueryLimit, backend.lastLimit)
}

func TestWebFetchJSONPrettyPrinted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	}))
	defer srv.Close()

	out, err := (&WebFetchTool{}).Execute(context.Background(), map[string]any{"url": srv.URL}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("HTTP 200 from %s", srv.URL))
	assert.Contains(t, out, "{\n  \"a\": 1\n}")
}

func TestWebFetchStripsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><script>var x=1;</script></head><body><h1>Title</h1><p>Hello &amp; bye</p></body></html>`)
	}))
	defer srv.Close()

	out, err := (&WebFetchTool{}).Execute(context.Background(), map[string]any{"url": srv.URL}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "Hello & bye")
	assert.NotContains(t, out, "var x=1;")
	assert.NotContains(t, out, "<p>")
}

func TestWebFetchRejectsBadScheme(t *testing.T) {
	out, err := (&WebFetchTool{}).Execute(context.Background(), map[string]any{"url": "ftp://x"}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "Error: URL must start with http:// or https://", out)
}

func TestWebFetchTruncatesLongBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("z", 9000))
	}))
	defer srv.Close()

	out, err := (&WebFetchTool{}).Execute(context.Background(), map[string]any{"url": srv.URL}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Contains(t, out, "... [truncated, total 9000 chars]")
}

func TestWebFetchSendsPOSTBodyAndHeaders(t *testing.T) {
	var gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := make([]byte, r.ContentLength)
		r.Body.Read(raw)
		gotBody = string(raw)
		gotHeader = r.Header.Get("X-Token")
	}))
	defer srv.Close()

	_, err := (&WebFetchTool{}).Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"body":    `{"k":"v"}`,
		"headers": map[string]any{"X-Token": "abc"},
	}, &ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, gotBody)
	assert.Equal(t, "abc", gotHeader)
}

func TestSubAgentDepthLimit(t *testing.T) {
	ec := &ExecutionContext{Backend: &fakeBackend{}, Depth: config.MaxSubAgentDepth}
	out, err := (&SubAgentTool{}).Execute(context.Background(), map[string]any{"agent_id": "a"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "Error: Maximum sub-agent nesting depth (3) reached. Cannot call more sub-agents.", out)
}

func TestSubAgentResolvesByName(t *testing.T) {
	var calledID string
	var calledDepth int
	backend := &fakeBackend{byName: map[string]*store.SavedAgent{
		"Summarizer": {ID: "agent-9", Name: "Summarizer"},
	}}
	ec := &ExecutionContext{
		Backend: backend,
		Depth:   1,
		RunSubAgent: func(_ context.Context, agentID string, _ map[string]string, depth int) (string, error) {
			calledID = agentID
			calledDepth = depth
			return "summary text", nil
		},
	}

	out, err := (&SubAgentTool{}).Execute(context.Background(), map[string]any{
		"agent_name": "Summarizer",
		"variables":  map[string]any{"text": "hello", "n": float64(3)},
	}, ec)
	require.NoError(t, err)
	assert.Equal(t, "summary text", out)
	assert.Equal(t, "agent-9", calledID)
	assert.Equal(t, 2, calledDepth)
}

func TestSubAgentUnknownName(t *testing.T) {
	ec := &ExecutionContext{Backend: &fakeBackend{byName: map[string]*store.SavedAgent{}}}
	out, err := (&SubAgentTool{}).Execute(context.Background(), map[string]any{"agent_name": "Ghost"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "Error: No agent found with name 'Ghost'", out)
}

func TestSubAgentListsAgentsWithoutArgs(t *testing.T) {
	backend := &fakeBackend{agents: []store.SavedAgent{
		{ID: "a1", Name: "Helper", Description: "answers questions"},
	}}
	out, err := (&SubAgentTool{}).Execute(context.Background(), map[string]any{}, &ExecutionContext{Backend: backend})
	require.NoError(t, err)
	assert.Contains(t, out, "Available agents (provide agent_id or agent_name):")
	assert.Contains(t, out, "Helper (id: a1) - answers questions")
}
