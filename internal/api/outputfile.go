package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/store"
)

// downloadedRequest acknowledges that the listed output files have been
// retrieved by their consumer.
type downloadedRequest struct {
	IDs []string `json:"ids"`
}

type downloadedResponse struct {
	Acknowledged int                 `json:"acknowledged"`
	Files        []*model.OutputFile `json:"files"`
	Unknown      []string            `json:"unknown,omitempty"`
}

func (s *Server) handleExecutionOutputFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Confirm the execution exists so an empty list is unambiguous.
	if _, err := s.executions.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	files, err := s.outputs.ByExecution(r.Context(), id)
	if err != nil {
		s.logger.Error("list execution output files", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list output files")
		return
	}
	if files == nil {
		files = []*model.OutputFile{}
	}

	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleOutputFilesDownloaded(w http.ResponseWriter, r *http.Request) {
	var req downloadedRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	updated, unknown, err := s.outputs.MarkDownloaded(r.Context(), req.IDs)
	if err != nil {
		s.logger.Error("mark output files downloaded", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to acknowledge downloads")
		return
	}
	if updated == nil {
		updated = []*model.OutputFile{}
	}

	s.writeJSON(w, http.StatusOK, downloadedResponse{
		Acknowledged: len(updated),
		Files:        updated,
		Unknown:      unknown,
	})
}
