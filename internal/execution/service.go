package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/store"
)

// Request is an execution request event for an already-persisted batch.
type Request struct {
	BatchID       string            `json:"batch_id"`
	CorrelationID string            `json:"correlation_id"`
	Inputs        []model.FileInput `json:"inputs"`
}

// Service is the core orchestrator. It creates executions from requests,
// dispatches the process engine asynchronously, and runs the timeout
// sweep.
type Service struct {
	store       store.Store
	registry    *process.Registry
	storage     process.ObjectStorage
	downloader  process.Downloader
	notifier    *Notifier
	workdirBase string
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewService creates an execution service.
func NewService(
	s store.Store,
	reg *process.Registry,
	storage process.ObjectStorage,
	downloader process.Downloader,
	notifier *Notifier,
	workdirBase string,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:       s,
		registry:    reg,
		storage:     storage,
		downloader:  downloader,
		notifier:    notifier,
		workdirBase: workdirBase,
		logger:      logger,
	}
}

// Notifier returns the step notifier bound to this service's store.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Launch creates an execution for the request and dispatches its process
// engine. The execution is persisted before the engine starts, so the
// timeout sweep sees it even if the process crashes before running; the
// engine then proceeds on its own goroutine while the caller gets the
// execution back immediately.
func (s *Service) Launch(ctx context.Context, req Request) (*model.Execution, error) {
	b, err := s.store.GetBatch(ctx, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", req.BatchID, err)
	}

	proc, ok := s.registry.FindByName(b.ProcessName)
	if !ok {
		return nil, fmt.Errorf("process %q: %w", b.ProcessName, store.ErrNotFound)
	}

	var totalBytes int64
	for _, in := range req.Inputs {
		totalBytes += in.Bytes
	}
	expected := proc.Forecast(totalBytes)

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = model.NewCorrelationID()
	}

	now := time.Now().UTC()
	e := &model.Execution{
		ID:                 model.NewID(),
		BatchID:            b.ID,
		CorrelationID:      correlationID,
		BatchCorrelationID: b.CorrelationID,
		Tenant:             b.Tenant,
		User:               b.User,
		ProcessBusinessID:  proc.BusinessID.String(),
		ProcessName:        proc.Name,
		Inputs:             req.Inputs,
		ExpectedDuration:   expected,
		CreatedAt:          now,
		Deadline:           now.Add(expected),
		LastUpdated:        now,
	}

	if err := s.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}
	executionsLaunched.Inc()

	if err := s.dispatch(e, b, proc); err != nil {
		return nil, err
	}

	s.logger.Info("execution launched",
		"execution_id", e.ID,
		"batch_id", b.ID,
		"process", proc.Name,
		"expected_duration", expected.String(),
		"total_input_bytes", totalBytes,
	)
	return e, nil
}

// Get returns the execution with the given id.
func (s *Service) Get(ctx context.Context, executionID string) (*model.Execution, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, err)
	}
	return e, nil
}

// Run re-dispatches the engine for an already-created execution, used to
// resume work after a restart. A terminal execution is returned unchanged.
func (s *Service) Run(ctx context.Context, executionID string) (*model.Execution, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, err)
	}
	if e.Terminal() {
		return e, nil
	}

	b, err := s.store.GetBatch(ctx, e.BatchID)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", e.BatchID, err)
	}

	bid, err := uuid.Parse(e.ProcessBusinessID)
	if err != nil {
		return nil, fmt.Errorf("execution %s: invalid process business id: %w", e.ID, err)
	}
	proc, ok := s.registry.FindByBusinessID(bid)
	if !ok {
		return nil, fmt.Errorf("process %s: %w", e.ProcessBusinessID, store.ErrNotFound)
	}

	if err := s.dispatch(e, b, proc); err != nil {
		return nil, err
	}
	return e, nil
}

// NotifyTimeouts records a timeout step for every execution past its
// deadline whose latest step is non-terminal. A failure on one execution
// is logged and does not abort the sweep of the rest.
func (s *Service) NotifyTimeouts(ctx context.Context) {
	timedOut, err := s.store.TimedOutExecutions(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("query timed out executions", "error", err)
		return
	}

	for _, e := range timedOut {
		if err := s.notifier.Notify(ctx, e.ID, model.StatusTimeout, ""); err != nil {
			s.logger.Error("notify timeout", "execution_id", e.ID, "error", err)
			continue
		}
		timeoutsNotified.Inc()
	}

	if len(timedOut) > 0 {
		s.logger.Info("timeout sweep complete", "notified", len(timedOut))
	}
}

// Wait blocks until all in-flight engine goroutines complete.
func (s *Service) Wait() {
	s.wg.Wait()
}

// dispatch builds the execution context and hands it to the process
// engine on its own goroutine. The engine context carries the execution's
// deadline; the orchestrator never kills a running engine, it only stops
// waiting at the deadline.
func (s *Service) dispatch(e *model.Execution, b *model.Batch, proc *process.Process) error {
	ec, err := s.newContext(e, b, proc)
	if err != nil {
		return err
	}

	s.wg.Go(func() {
		ctx, cancel := context.WithDeadline(context.Background(), e.Deadline)
		defer cancel()

		if err := proc.Engine.Run(ctx, ec); err != nil {
			s.logger.Error("engine run failed", "execution_id", e.ID, "error", err)
			if nerr := s.notifier.Notify(context.Background(), e.ID, model.StatusError, err.Error()); nerr != nil {
				s.logger.Error("record engine failure", "execution_id", e.ID, "error", nerr)
			}
		}
	})
	return nil
}

// newContext assembles the ephemeral resource bundle for one run. The
// workdir is execution-scoped and never shared across executions.
func (s *Service) newContext(e *model.Execution, b *model.Batch, proc *process.Process) (*process.Context, error) {
	workdir := filepath.Join(s.workdirBase, e.Tenant, e.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir %s: %w", workdir, err)
	}

	return &process.Context{
		Workdir:    workdir,
		Execution:  e,
		Batch:      b,
		Process:    proc,
		Storage:    s.storage,
		Notifier:   s.notifier,
		Outputs:    &outputRecorder{store: s.store},
		Downloader: s.downloader,
	}, nil
}

// outputRecorder registers files produced by an engine.
type outputRecorder struct {
	store store.OutputFileStore
}

func (r *outputRecorder) Record(ctx context.Context, f *model.OutputFile) error {
	if f.ID == "" {
		f.ID = model.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := r.store.CreateOutputFile(ctx, f); err != nil {
		return fmt.Errorf("record output file: %w", err)
	}
	return nil
}
