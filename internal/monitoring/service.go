// Package monitoring serves filtered, paged views over execution history
// for operators and tenant administrators.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500

	nameCacheCapacity = 256
	nameCacheTTL      = 5 * time.Minute
)

// Criteria filters the execution listing. Zero-valued fields match
// everything.
type Criteria struct {
	Tenant            string
	Statuses          []string
	ProcessBusinessID string
	UserEmail         string
	From              *time.Time
	To                *time.Time
}

// ExecutionView is one row of the monitoring listing.
type ExecutionView struct {
	ID                 string        `json:"id"`
	BatchID            string        `json:"batch_id"`
	CorrelationID      string        `json:"correlation_id"`
	BatchCorrelationID string        `json:"batch_correlation_id"`
	Tenant             string        `json:"tenant"`
	UserEmail          string        `json:"user_email"`
	ProcessName        string        `json:"process_name"`
	CurrentStatus      string        `json:"current_status"`
	Steps              []model.Step  `json:"steps"`
	ExpectedDuration   time.Duration `json:"expected_duration_ms"`
	CreatedAt          time.Time     `json:"created_at"`
	Deadline           time.Time     `json:"deadline"`
	LastUpdated        time.Time     `json:"last_updated"`
}

// Page is one page of the listing with the total match count.
type Page struct {
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
	Items []ExecutionView `json:"items"`
}

// ExecutionSearcher is the slice of the store the monitoring service
// reads from.
type ExecutionSearcher interface {
	CountExecutions(ctx context.Context, q store.ExecutionQuery) (int, error)
	SearchExecutions(ctx context.Context, q store.ExecutionQuery, limit, offset int) ([]*model.Execution, error)
}

// Service answers monitoring queries over execution history.
type Service struct {
	store    ExecutionSearcher
	registry *process.Registry
	names    *nameCache
	logger   *slog.Logger
}

// NewService creates a monitoring service.
func NewService(s ExecutionSearcher, reg *process.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		registry: reg,
		names:    newNameCache(nameCacheCapacity, nameCacheTTL),
		logger:   logger,
	}
}

// Executions returns one page of executions matching the criteria,
// newest first. The count runs first; when nothing matches, or the
// requested page starts past the last match, no row fetch is issued.
func (s *Service) Executions(ctx context.Context, c Criteria, page, size int) (*Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	q := store.ExecutionQuery{
		Tenant:            c.Tenant,
		Statuses:          c.Statuses,
		ProcessBusinessID: c.ProcessBusinessID,
		UserEmail:         c.UserEmail,
		From:              c.From,
		To:                c.To,
	}

	total, err := s.store.CountExecutions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	result := &Page{Total: total, Page: page, Size: size, Items: []ExecutionView{}}
	offset := page * size
	if total == 0 || offset >= total {
		return result, nil
	}

	execs, err := s.store.SearchExecutions(ctx, q, size, offset)
	if err != nil {
		return nil, fmt.Errorf("search executions: %w", err)
	}

	for _, e := range execs {
		result.Items = append(result.Items, ExecutionView{
			ID:                 e.ID,
			BatchID:            e.BatchID,
			CorrelationID:      e.CorrelationID,
			BatchCorrelationID: e.BatchCorrelationID,
			Tenant:             e.Tenant,
			UserEmail:          e.User,
			ProcessName:        s.processName(e),
			CurrentStatus:      e.CurrentStatus(),
			Steps:              e.Steps,
			ExpectedDuration:   e.ExpectedDuration,
			CreatedAt:          e.CreatedAt,
			Deadline:           e.Deadline,
			LastUpdated:        e.LastUpdated,
		})
	}
	return result, nil
}

// processName resolves the display name of the execution's process,
// preferring the registry's current name over the one frozen at launch.
// Lookups go through a TTL cache; a name at most one TTL stale is fine
// for a listing.
func (s *Service) processName(e *model.Execution) string {
	if name, ok := s.names.get(e.ProcessBusinessID); ok {
		return name
	}

	name := e.ProcessName
	if bid, err := uuid.Parse(e.ProcessBusinessID); err == nil {
		if p, ok := s.registry.FindByBusinessID(bid); ok {
			name = p.Name
		}
	}

	s.names.put(e.ProcessBusinessID, name)
	return name
}
