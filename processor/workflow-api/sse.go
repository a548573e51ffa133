package workflowapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// serveThreadEvents streams a thread's lifecycle events (C11) as
// server-sent events until the client disconnects.
func (c *Component) serveThreadEvents(w http.ResponseWriter, r *http.Request, threadID string) {
	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()
	if stack == nil {
		http.Error(w, "workflow runtime not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := stack.Bus.Subscribe(threadID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("marshal event for sse failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, payload)
			flusher.Flush()
		}
	}
}
