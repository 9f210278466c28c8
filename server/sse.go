package server

import (
	"net/http"

	"github.com/forge-ai/forge-kb/agent"
)

// streamEvents writes every event from the channel as SSE frames, flushing
// after each. It drains the channel even if the client disconnects so the
// producer goroutine never blocks. observe, when non-nil, is called for
// every event before it is written.
func streamEvents(w http.ResponseWriter, r *http.Request, events <-chan agent.Event, observe func(agent.Event)) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	gone := false

	for ev := range events {
		if observe != nil {
			observe(ev)
		}
		if gone {
			continue
		}
		select {
		case <-r.Context().Done():
			gone = true
			continue
		default:
		}
		if _, err := w.Write([]byte(ev.Encode())); err != nil {
			gone = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
