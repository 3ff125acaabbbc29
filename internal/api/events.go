package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const heartbeatInterval = 15 * time.Second

// EventsHandler streams the authenticated account's issue events over SSE.
// The subscription is released when the client disconnects.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountID(r)
	if !ok {
		h.fail(w, http.StatusUnauthorized, "Unauthorized", "GET", "/events")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, http.StatusInternalServerError, "Streaming unsupported", "GET", "/events")
		return
	}

	events, cancel := h.watcher.Subscribe(accountID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	httpRequestsTotal.WithLabelValues("GET", "/events", "200").Inc()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case n, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
