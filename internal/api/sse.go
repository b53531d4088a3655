package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gwlsn/restreamer/internal/jobs"
	"github.com/gwlsn/restreamer/internal/logger"
)

// sseBuffer is how many events a slow client may lag before events are dropped.
const sseBuffer = 64

func eventName(ev jobs.Event) string {
	switch ev.(type) {
	case jobs.JobAddedEvent:
		return "job_added"
	case jobs.JobStateChangedEvent:
		return "job_state"
	case jobs.JobDeletedEvent:
		return "job_deleted"
	default:
		return "message"
	}
}

// JobStream handles GET /api/jobs/stream (SSE endpoint)
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the initial state so nothing falls between
	eventCh := make(chan jobs.Event, sseBuffer)
	unsubscribe := h.bus.SubscribeAll(func(ev jobs.Event) {
		select {
		case eventCh <- ev:
		default:
			logger.Debug("Dropping event for slow SSE client", "event", eventName(ev))
		}
	})
	defer unsubscribe()

	initial, err := h.jobs.List()
	if err != nil {
		writeManagerError(w, r, err)
		return
	}
	if initial == nil {
		initial = []*jobs.Job{}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	writeEvent(w, "init", map[string]any{"jobs": initial})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-eventCh:
			writeEvent(w, eventName(ev), ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
