package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abhisheknishant138/rotor/internal/deploy"
	"github.com/abhisheknishant138/rotor/internal/model"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Verify the deployment exists.
	if _, err := s.manager.Get(name); err != nil {
		if errors.Is(err, deploy.ErrUnknownName) {
			s.writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		s.logger.Error("get deployment for events", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe to the event stream. This is safe even if the deployment was
	// torn down between the check above and this call: Subscribe on a closed
	// topic returns a closed channel, so the loop below exits immediately.
	ch, unsub := s.manager.Broker().Subscribe(name)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Deployment finished; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal event", "error", err)
				continue
			}
			if err := writeSSEData(w, string(payload)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// eventHistoryResponse is the JSON response for
// GET /v1/deployments/{name}/events/history.
type eventHistoryResponse struct {
	Deployment string        `json:"deployment"`
	Events     []model.Event `json:"events"`
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := parseIntQuery(r, "limit", 0)

	// History is served straight from the journal, so it works for finished
	// deployments whose registry entry is long gone.
	events, err := s.journal.ListByDeployment(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("list journal events", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get event history")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		Deployment: name,
		Events:     events,
	})
}

// writeSSEData writes one payload as an SSE data event.
func writeSSEData(w http.ResponseWriter, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
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
