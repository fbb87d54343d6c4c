package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/store"
)

// ConstraintViolationsError rejects a batch request with the complete list
// of violated constraints. The batch is never persisted partially.
type ConstraintViolationsError struct {
	Violations []model.ConstraintViolation
}

func (e *ConstraintViolationsError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Category + ": " + v.Message
	}
	return fmt.Sprintf("batch rejected with %d constraint violation(s): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// CreateRequest describes a batch to be validated and created.
type CreateRequest struct {
	CorrelationID string                       `json:"correlation_id"`
	ProcessName   string                       `json:"process_name"`
	Tenant        string                       `json:"tenant"`
	User          string                       `json:"user"`
	UserRole      string                       `json:"user_role"`
	Parameters    map[string]string            `json:"parameters"`
	Filesets      map[string][]model.FileInput `json:"filesets"`
	ReplaceMode   bool                         `json:"replace_mode"`
}

// Service validates batch requests and persists accepted batches.
type Service struct {
	store   store.BatchStore
	reg     *process.Registry
	checker *Checker
	logger  *slog.Logger
}

// NewService creates a batch service.
func NewService(s store.BatchStore, reg *process.Registry, checker *Checker, logger *slog.Logger) *Service {
	return &Service{store: s, reg: reg, checker: checker, logger: logger}
}

// CheckAndCreate resolves the requested process, builds a candidate batch,
// runs the checker, and persists the batch if no constraint is violated.
// A rejected request fails with every violation at once; nothing is
// persisted for it.
func (s *Service) CheckAndCreate(ctx context.Context, req CreateRequest) (*model.Batch, error) {
	if _, ok := s.reg.FindByName(req.ProcessName); !ok {
		return nil, fmt.Errorf("process %q: %w", req.ProcessName, store.ErrNotFound)
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = model.NewCorrelationID()
	}

	b := &model.Batch{
		ID:            model.NewID(),
		CorrelationID: correlationID,
		ProcessName:   req.ProcessName,
		Tenant:        req.Tenant,
		User:          req.User,
		UserRole:      req.UserRole,
		Parameters:    req.Parameters,
		Filesets:      req.Filesets,
		ReplaceMode:   req.ReplaceMode,
		CreatedAt:     time.Now().UTC(),
	}

	if violations := s.checker.Check(b); len(violations) > 0 {
		return nil, &ConstraintViolationsError{Violations: violations}
	}

	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	s.logger.Info("batch created",
		"batch_id", b.ID,
		"process", b.ProcessName,
		"tenant", b.Tenant,
		"files", b.FileCount(),
	)
	return b, nil
}
