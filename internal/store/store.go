package store

import (
	"context"
	"errors"
	"time"

	"github.com/datalith/procflow/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ExecutionQuery filters executions for monitoring and sweep queries.
// Zero-valued fields are not applied.
type ExecutionQuery struct {
	Tenant            string
	Statuses          []string
	ProcessBusinessID string
	UserEmail         string
	From              *time.Time
	To                *time.Time
}

// BatchStore persists batch aggregates.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
}

// ExecutionStore persists executions and their step logs. Steps are
// append-only; UpdateExecutionSteps replaces the whole log with a longer
// one and refreshes the denormalized current status.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	UpdateExecutionSteps(ctx context.Context, id string, steps []model.Step) error
	TimedOutExecutions(ctx context.Context, now time.Time) ([]*model.Execution, error)
	CountExecutions(ctx context.Context, q ExecutionQuery) (int, error)
	SearchExecutions(ctx context.Context, q ExecutionQuery, limit, offset int) ([]*model.Execution, error)
}

// OutputFileStore persists output-file lifecycle records.
type OutputFileStore interface {
	CreateOutputFile(ctx context.Context, f *model.OutputFile) error
	OutputFilesByID(ctx context.Context, ids []string) ([]*model.OutputFile, error)
	OutputFilesByExecution(ctx context.Context, executionID string) ([]*model.OutputFile, error)
	SaveOutputFile(ctx context.Context, f *model.OutputFile) error
	DownloadedNotDeleted(ctx context.Context) ([]*model.OutputFile, error)
}

// Store bundles all persistence operations the engine consumes.
type Store interface {
	BatchStore
	ExecutionStore
	OutputFileStore
	Close() error
}
