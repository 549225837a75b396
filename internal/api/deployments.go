package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/abhisheknishant138/rotor/internal/deploy"
	"github.com/abhisheknishant138/rotor/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// createDeploymentRequest is the JSON body for POST /v1/deployments.
// Instances defaults to one when omitted; an explicit zero deploys an empty
// placeholder that only reserves the name.
type createDeploymentRequest struct {
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	ModuleRef     string   `json:"module_ref"`
	ResourceScope []string `json:"resource_scope"`
	Instances     *int     `json:"instances"`
	Worker        bool     `json:"worker"`
}

// listDeploymentsResponse wraps the deployment list response.
type listDeploymentsResponse struct {
	Deployments []model.DeploymentStatus `json:"deployments"`
	Total       int                      `json:"total"`
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	instances := 1
	if req.Instances != nil {
		instances = *req.Instances
	}
	spec := model.DeploymentSpec{
		Kind:          req.Kind,
		Name:          req.Name,
		ModuleRef:     req.ModuleRef,
		ResourceScope: req.ResourceScope,
		Instances:     instances,
		Worker:        req.Worker,
	}

	launched := make(chan struct{})
	err := s.manager.Deploy(spec, func() { close(launched) })
	if errors.Is(err, deploy.ErrDuplicateName) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("wait") == "1" {
		select {
		case <-launched:
		case <-r.Context().Done():
			// Client gone; the deploy carries on without a watcher.
			return
		}
	}

	status, err := s.manager.Get(spec.Name)
	if err != nil {
		// A failed launch already tore the deployment down.
		s.writeError(w, http.StatusInternalServerError, "deployment failed during launch")
		return
	}

	code := http.StatusAccepted
	if r.URL.Query().Get("wait") == "1" {
		code = http.StatusOK
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := s.manager.List()
	s.writeJSON(w, http.StatusOK, listDeploymentsResponse{
		Deployments: deployments,
		Total:       len(deployments),
	})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, err := s.manager.Get(name)
	if errors.Is(err, deploy.ErrUnknownName) {
		s.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	if err != nil {
		s.logger.Error("get deployment", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUndeployDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stopped := make(chan struct{})
	err := s.manager.Undeploy(name, func() { close(stopped) })
	if errors.Is(err, deploy.ErrUnknownName) {
		s.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	if err != nil {
		s.logger.Error("undeploy", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to undeploy")
		return
	}

	if r.URL.Query().Get("wait") == "1" {
		select {
		case <-stopped:
		case <-r.Context().Done():
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "undeployed"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"name": name, "status": "stopping"})
}

func (s *Server) handleUndeployAll(w http.ResponseWriter, r *http.Request) {
	stopped := make(chan struct{})
	s.manager.UndeployAll(func() { close(stopped) })

	if r.URL.Query().Get("wait") == "1" {
		select {
		case <-stopped:
		case <-r.Context().Done():
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "undeployed"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
