package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/ksched/pkg/model"
)

// ssePollInterval is how often a stream checks its run for new events.
const ssePollInterval = 100 * time.Millisecond

// handleSSERun streams the trace of a run via Server-Sent Events: an "init"
// summary, one "event" per trace event, then "complete" when the kernel halts.
// GET /api/v1/sse/runs/{id}
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	lr := s.live.get(id)
	if lr == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("live run", id))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", liveView(lr).Run); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		// Read completion before the events so the final batch is never missed.
		finished := lr.session.Finished()
		for _, ev := range lr.session.EventsSince(sent) {
			if err := sendSSEEvent(w, flusher, "event", ev); err != nil {
				s.logger.Debug("sse client disconnected", "id", id)
				return
			}
			sent++
		}
		if finished {
			sendSSEEvent(w, flusher, "complete", liveView(lr).Run)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-lr.session.Done():
		case <-ticker.C:
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
