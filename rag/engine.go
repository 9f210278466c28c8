package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/store"
)

// Retrieval tuning. Secondary sources get a few guaranteed slots and a
// relaxed threshold so low-similarity corpora like form templates are never
// entirely pushed out by the primary knowledge base.
const (
	secondaryTopK           = 3
	secondaryThresholdFloor = 0.15
	secondaryThresholdDrop  = 0.15
)

// ContextPlaceholder is the catch-all template slot for combined results.
const ContextPlaceholder = "{{context}}"

// Searcher is the document retrieval surface the engine needs; *store.Store
// satisfies it.
type Searcher interface {
	HybridSearch(ctx context.Context, embedding []float32, sourceLabel string, threshold float64, topK int, tsQuery string) ([]store.SearchResult, error)
	SemanticSearch(ctx context.Context, embedding []float32, threshold float64, topK int, sourceLabels []string) ([]store.SearchResult, error)
	HasSearchIndex(ctx context.Context) bool
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// SourceDebug captures per-source retrieval diagnostics for the history
// payload.
type SourceDebug struct {
	Count      int           `json:"count"`
	TopK       int           `json:"top_k"`
	Threshold  float64       `json:"threshold"`
	Hybrid     bool          `json:"hybrid"`
	TopResults []ResultDebug `json:"top_results"`
}

// ResultDebug is one retrieved passage in the debug trace.
type ResultDebug struct {
	TextPreview string  `json:"text_preview"`
	Similarity  float64 `json:"similarity"`
	KwScore     float64 `json:"kw_score"`
	RRFScore    float64 `json:"rrf_score"`
}

// Resolution is the outcome of context injection.
type Resolution struct {
	Prompt       string
	SystemPrompt string
	ContextCount int
	Debug        map[string]SourceDebug
}

// Engine performs hybrid retrieval and injects results into prompt
// templates. Retrieval failures are never fatal to a run; the engine strips
// placeholders and lets the agent answer without context.
type Engine struct {
	searcher Searcher
	embedder Embedder
	synonyms SynonymTable
}

// New builds an Engine. A nil synonym table falls back to TurkishSynonyms.
func New(searcher Searcher, embedder Embedder, synonyms SynonymTable) *Engine {
	if synonyms == nil {
		synonyms = TurkishSynonyms
	}
	return &Engine{searcher: searcher, embedder: embedder, synonyms: synonyms}
}

var sourceVarPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SourceToVar derives a template variable name from a source label:
// "ITSM Knowledge Base" becomes "itsm_knowledge_base".
func SourceToVar(source string) string {
	return strings.Trim(sourceVarPattern.ReplaceAllString(strings.ToLower(source), "_"), "_")
}

// sourceAlias resolves the placeholder name for a source.
func sourceAlias(cfg *config.AgentConfig, source string) string {
	if alias := cfg.RAGSourceAliases[source]; alias != "" {
		return alias
	}
	return SourceToVar(source)
}

// QueryFromVariables builds the semantic query from variable values instead
// of the full prompt, so instruction text does not bias the search. Declared
// variables keep their declaration order; extra request variables follow in
// sorted order.
func QueryFromVariables(cfg *config.AgentConfig, vars map[string]string) string {
	var parts []string
	seen := map[string]bool{}
	for _, v := range cfg.Variables {
		if v.Name != "" && !seen[v.Name] {
			seen[v.Name] = true
			if val := vars[v.Name]; val != "" {
				parts = append(parts, val)
			}
		}
	}
	var extra []string
	for name := range vars {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if val := vars[name]; val != "" {
			parts = append(parts, val)
		}
	}
	return strings.Join(parts, " ")
}

// Resolve runs retrieval for an enabled agent and injects results into the
// resolved prompt and system prompt. With RAG disabled it returns the inputs
// unchanged.
func (e *Engine) Resolve(ctx context.Context, cfg *config.AgentConfig, prompt, system string, vars map[string]string) Resolution {
	res := Resolution{Prompt: prompt, SystemPrompt: system, Debug: map[string]SourceDebug{}}
	if !cfg.RAGEnabled || e.embedder == nil {
		return res
	}

	query := QueryFromVariables(cfg, vars)
	if strings.TrimSpace(query) == "" {
		query = prompt
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Error("Context retrieval failed", "error", err)
		e.stripPlaceholders(cfg, &res)
		return res
	}

	hasIndex := e.searcher.HasSearchIndex(ctx)

	perSource := map[string][]store.SearchResult{}
	seenTexts := map[string]bool{}
	var combined []store.SearchResult

	if len(cfg.RAGSources) > 0 {
		nSecondary := len(cfg.RAGSources) - 1
		defaultPrimaryK := cfg.RAGTopK - secondaryTopK*nSecondary
		if defaultPrimaryK < 1 {
			defaultPrimaryK = 1
		}

		for idx, source := range cfg.RAGSources {
			topK := defaultPrimaryK
			threshold := cfg.RAGThreshold
			if idx > 0 {
				topK = secondaryTopK
				threshold = math.Max(secondaryThresholdFloor, cfg.RAGThreshold-secondaryThresholdDrop)
			}
			if srcCfg, ok := cfg.RAGSourceConfig[source]; ok {
				if srcCfg.TopK > 0 {
					topK = srcCfg.TopK
				}
				if srcCfg.Threshold > 0 {
					threshold = srcCfg.Threshold
				}
			}

			rows := e.searchSource(ctx, embedding, source, threshold, topK, query, hasIndex)

			var deduped []store.SearchResult
			for _, row := range rows {
				key := truncateRunes(row.Text, 80)
				if !seenTexts[key] {
					seenTexts[key] = true
					deduped = append(deduped, row)
				}
			}
			perSource[source] = deduped
			res.Debug[source] = debugFor(deduped, topK, threshold, hasIndex)
			combined = append(combined, deduped...)
		}

		if len(combined) > cfg.RAGTopK {
			combined = combined[:cfg.RAGTopK]
		}
	} else {
		rows, err := e.searcher.SemanticSearch(ctx, embedding, cfg.RAGThreshold, cfg.RAGTopK, nil)
		if err != nil {
			slog.Error("Context retrieval failed", "error", err)
			e.stripPlaceholders(cfg, &res)
			return res
		}
		combined = rows
	}

	if len(combined) == 0 {
		e.stripPlaceholders(cfg, &res)
		return res
	}

	res.ContextCount = len(combined)

	// Per-source injection first: each source's rows fill its alias slot.
	perSourceInjected := false
	for _, source := range cfg.RAGSources {
		placeholder := "{{" + sourceAlias(cfg, source) + "}}"
		if rows := perSource[source]; len(rows) > 0 {
			text := joinTexts(rows)
			if strings.Contains(res.Prompt, placeholder) {
				res.Prompt = strings.ReplaceAll(res.Prompt, placeholder, text)
				perSourceInjected = true
			} else if strings.Contains(res.SystemPrompt, placeholder) {
				res.SystemPrompt = strings.ReplaceAll(res.SystemPrompt, placeholder, text)
				perSourceInjected = true
			}
		}
		res.Prompt = strings.ReplaceAll(res.Prompt, placeholder, "")
		res.SystemPrompt = strings.ReplaceAll(res.SystemPrompt, placeholder, "")
	}

	// {{context}} catch-all takes the combined results; otherwise append to
	// the system prompt so the model always sees what was found.
	contextText := joinTexts(combined)
	switch {
	case strings.Contains(res.Prompt, ContextPlaceholder):
		res.Prompt = strings.ReplaceAll(res.Prompt, ContextPlaceholder, contextText)
	case strings.Contains(res.SystemPrompt, ContextPlaceholder):
		res.SystemPrompt = strings.ReplaceAll(res.SystemPrompt, ContextPlaceholder, contextText)
	case !perSourceInjected:
		res.SystemPrompt += fmt.Sprintf("\n\n[Retrieved Context]\n%s", contextText)
	}

	return res
}

// searchSource runs hybrid retrieval for one source, degrading to pure
// semantic on failure and to empty on a second failure.
func (e *Engine) searchSource(ctx context.Context, embedding []float32, source string, threshold float64, topK int, query string, hybrid bool) []store.SearchResult {
	tsQuery := ""
	if hybrid {
		tsQuery = e.synonyms.BuildTSQuery(query)
	}

	rows, err := e.searcher.HybridSearch(ctx, embedding, source, threshold, topK, tsQuery)
	if err == nil {
		return rows
	}
	slog.Warn("Hybrid search failed, falling back to semantic", "source", source, "error", err)

	rows, err = e.searcher.HybridSearch(ctx, embedding, source, threshold, topK, "")
	if err != nil {
		slog.Warn("Semantic fallback failed", "source", source, "error", err)
		return nil
	}
	return rows
}

// stripPlaceholders removes all retrieval placeholders so failed or empty
// retrieval never leaks template syntax to the model.
func (e *Engine) stripPlaceholders(cfg *config.AgentConfig, res *Resolution) {
	for _, source := range cfg.RAGSources {
		placeholder := "{{" + sourceAlias(cfg, source) + "}}"
		res.Prompt = strings.ReplaceAll(res.Prompt, placeholder, "")
		res.SystemPrompt = strings.ReplaceAll(res.SystemPrompt, placeholder, "")
	}
	res.Prompt = strings.ReplaceAll(res.Prompt, ContextPlaceholder, "")
	res.SystemPrompt = strings.ReplaceAll(res.SystemPrompt, ContextPlaceholder, "")
}

func debugFor(rows []store.SearchResult, topK int, threshold float64, hybrid bool) SourceDebug {
	d := SourceDebug{
		Count:      len(rows),
		TopK:       topK,
		Threshold:  threshold,
		Hybrid:     hybrid,
		TopResults: []ResultDebug{},
	}
	for i, r := range rows {
		if i >= 5 {
			break
		}
		d.TopResults = append(d.TopResults, ResultDebug{
			TextPreview: truncateRunes(r.Text, 100),
			Similarity:  round4(r.Similarity),
			KwScore:     round4(r.KwScore),
			RRFScore:    round4(r.RRFScore),
		})
	}
	return d
}

func joinTexts(rows []store.SearchResult) string {
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n\n---\n\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
