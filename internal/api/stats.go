package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats. Live counts come
// from the registry and reactor; the journal supplies historical totals.
type statsResponse struct {
	Deployments     int            `json:"deployments"`
	Instances       int            `json:"instances"`
	EventLoops      int            `json:"event_loops"`
	Contexts        int            `json:"contexts"`
	EventsTotal     int            `json:"events_total"`
	EventsByType    map[string]int `json:"events_by_type"`
	DeploymentsSeen int            `json:"deployments_seen"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	js, err := s.journal.Stats(r.Context())
	if err != nil {
		s.logger.Error("get journal stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	live := s.manager.LiveStats()

	s.writeJSON(w, http.StatusOK, statsResponse{
		Deployments:     live.Deployments,
		Instances:       live.Instances,
		EventLoops:      s.exec.LoopCount(),
		Contexts:        s.exec.ContextCount(),
		EventsTotal:     js.Total,
		EventsByType:    js.CountByType,
		DeploymentsSeen: js.Deployments,
	})
}
