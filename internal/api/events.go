package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tremor/internal/engine"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

// statusRecheckInterval is how often an idle event stream re-reads the stored
// calculation status. A run that finished in a previous process has no broker
// topic to close, so the stream must notice terminal status on its own.
// Variable so tests can shorten it.
var statusRecheckInterval = 5 * time.Second

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.store.GetCalculation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "calculation not found")
		return
	}
	if err != nil {
		s.logger.Error("get calculation for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get calculation")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Terminal runs have no further progress; return an empty stream.
	if model.TerminalStatus(c.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing after the run finished is safe: Subscribe on a closed topic
	// returns a closed channel, so the loop below exits immediately.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	recheck := time.NewTicker(statusRecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				// Run finished; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEData(w, event); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-recheck.C:
			// The topic never closes when the run's goroutine predates this
			// process; fall back to the stored status.
			c, err := s.store.GetCalculation(r.Context(), id)
			if err != nil || model.TerminalStatus(c.Status) {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEData writes a progress event as an SSE data line. The payload is
// JSON, so it never spans lines.
func writeSSEData(w http.ResponseWriter, event engine.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
