package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datalith/procflow/internal/execution"
	"github.com/datalith/procflow/internal/store"
)

func (s *Server) handleLaunchExecution(w http.ResponseWriter, r *http.Request) {
	var req execution.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.BatchID == "" {
		s.writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}
	if len(req.Inputs) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one input is required")
		return
	}

	e, err := s.executions.Launch(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("launch execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to launch execution")
		return
	}

	s.writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.executions.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, e)
}
