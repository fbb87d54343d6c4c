package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/datalith/procflow/internal/batch"
	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/store"
)

const maxBodySize = 1 << 20 // 1 MB

// violationsResponse reports every constraint a rejected batch violated.
type violationsResponse struct {
	Error      string                      `json:"error"`
	Violations []model.ConstraintViolation `json:"violations"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.CreateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ProcessName == "" {
		s.writeError(w, http.StatusBadRequest, "process_name is required")
		return
	}
	if req.Tenant == "" || req.User == "" {
		s.writeError(w, http.StatusBadRequest, "tenant and user are required")
		return
	}

	b, err := s.batches.CheckAndCreate(r.Context(), req)
	if err != nil {
		var cve *batch.ConstraintViolationsError
		switch {
		case errors.As(err, &cve):
			s.writeJSON(w, http.StatusUnprocessableEntity, violationsResponse{
				Error:      "batch rejected",
				Violations: cve.Violations,
			})
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "process not found")
		default:
			s.logger.Error("create batch", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create batch")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	type processView struct {
		Name               string   `json:"name"`
		BusinessID         string   `json:"business_id"`
		RequiredParameters []string `json:"required_parameters,omitempty"`
	}

	procs := s.registry.List()
	views := make([]processView, 0, len(procs))
	for _, p := range procs {
		views = append(views, processView{
			Name:               p.Name,
			BusinessID:         p.BusinessID.String(),
			RequiredParameters: p.RequiredParameters,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
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
