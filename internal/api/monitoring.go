package api

import (
	"net/http"
	"time"

	"github.com/datalith/procflow/internal/monitoring"
)

const (
	defaultPage     = 0
	defaultPageSize = 20
)

func (s *Server) handleMonitorExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	criteria := monitoring.Criteria{
		Tenant:            q.Get("tenant"),
		ProcessBusinessID: q.Get("process_business_id"),
		UserEmail:         q.Get("user_email"),
	}
	if statuses, ok := q["status"]; ok {
		criteria.Statuses = statuses
	}

	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		criteria.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		criteria.To = &to
	}

	page := parseIntQuery(r, "page", defaultPage)
	size := parseIntQuery(r, "size", defaultPageSize)

	result, err := s.monitor.Executions(r.Context(), criteria, page, size)
	if err != nil {
		s.logger.Error("monitor executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query executions")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
