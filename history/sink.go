// Package history records one audit row per agent or workflow-step run.
// Writes are detached from the request lifecycle: they run on their own
// context with their own deadline, and failures are logged, never surfaced.
package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ai/forge-kb/store"
)

const (
	writeTimeout    = 10 * time.Second
	previewMaxLen   = 150
	timestampLayout = "01/02/2006, 03:04:05 PM"
)

// Record is the sink's input for one run.
type Record struct {
	Model           string
	Endpoint        string
	Status          int
	Prompt          string
	Output          string
	Elapsed         time.Duration
	RequestPayload  map[string]any
	ResponsePayload map[string]any
	WorkflowID      string
	WorkflowName    string
	WorkflowStep    int
}

// Writer persists history entries; *store.Store satisfies it.
type Writer interface {
	InsertHistory(ctx context.Context, e *store.HistoryEntry) (bool, error)
}

// Sink writes run records asynchronously.
type Sink struct {
	writer Writer
}

// NewSink builds a Sink over a history writer.
func NewSink(writer Writer) *Sink {
	return &Sink{writer: writer}
}

// NewID generates a history id: req_<unix-ms>_<6 hex chars>.
func NewID() string {
	id := uuid.New()
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(id[:3]))
}

// FormatDuration renders elapsed time the way clients expect: "250ms" under
// a second, "1.3s" above.
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// Write records one run. It never blocks the caller's stream: the insert
// runs in a goroutine with its own deadline, and failures only log.
func (s *Sink) Write(rec Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.write(ctx, rec); err != nil {
			slog.Warn("History write failed", "error", err)
		}
	}()
}

// WriteSync records one run and waits for the insert, used by tests and
// workflow steps that must order their records.
func (s *Sink) WriteSync(ctx context.Context, rec Record) error {
	return s.write(ctx, rec)
}

func (s *Sink) write(ctx context.Context, rec Record) error {
	preview := rec.Output
	if preview == "" {
		preview = "Error"
	}
	if runes := []rune(preview); len(runes) > previewMaxLen {
		preview = string(runes[:previewMaxLen])
	}

	statusText := "OK"
	if rec.Status != 200 {
		statusText = "Error"
	}

	endpoint := rec.Endpoint
	if endpoint == "" {
		endpoint = "/v1/chat/completions"
	}

	reqBlob, err := json.Marshal(rec.RequestPayload)
	if err != nil {
		reqBlob = []byte("{}")
	}
	resBlob, err := json.Marshal(rec.ResponsePayload)
	if err != nil {
		resBlob = []byte("{}")
	}

	workflowStep := rec.WorkflowStep
	if rec.WorkflowID == "" {
		workflowStep = -1
	}

	_, err = s.writer.InsertHistory(ctx, &store.HistoryEntry{
		ID:              NewID(),
		Method:          "POST",
		Endpoint:        endpoint,
		Model:           rec.Model,
		Timestamp:       time.Now().Format(timestampLayout),
		Duration:        FormatDuration(rec.Elapsed),
		Tokens:          EstimateTokens(rec.Prompt, rec.Output),
		Status:          rec.Status,
		StatusText:      statusText,
		Preview:         preview,
		RequestPayload:  reqBlob,
		ResponsePayload: resBlob,
		WorkflowID:      rec.WorkflowID,
		WorkflowName:    rec.WorkflowName,
		WorkflowStep:    workflowStep,
	})
	return err
}
