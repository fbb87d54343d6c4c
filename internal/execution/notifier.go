package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/store"
)

// Notifier appends step events to an execution's history. Appends are
// serialized per execution with a keyed mutex and re-read the persisted
// state inside the critical section, so a timeout sweep and an in-flight
// engine run cannot interleave into an inconsistent latest status.
//
// Appending onto a terminal execution is a no-op: the guard keeps the
// sweep from resurrecting a finished execution, and keeps a late engine
// completion from overwriting a recorded timeout.
type Notifier struct {
	store  store.ExecutionStore
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNotifier creates a notifier over the given execution store.
func NewNotifier(s store.ExecutionStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:  s,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Notify appends a step with the given status and message to the
// execution.
func (n *Notifier) Notify(ctx context.Context, executionID, status, message string) error {
	lock := n.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	e, err := n.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}

	if e.Terminal() {
		n.logger.Debug("step dropped, execution already terminal",
			"execution_id", executionID,
			"current_status", e.CurrentStatus(),
			"dropped_status", status,
		)
		return nil
	}

	steps := append(e.Steps, model.Step{
		Status:  status,
		Message: message,
		Time:    time.Now().UTC(),
	})
	if err := n.store.UpdateExecutionSteps(ctx, executionID, steps); err != nil {
		return fmt.Errorf("append step to %s: %w", executionID, err)
	}

	stepsAppended.WithLabelValues(status).Inc()
	n.logger.Info("execution step",
		"execution_id", executionID,
		"status", status,
	)
	return nil
}

// lockFor returns the mutex serializing appends for one execution.
// Entries are retained; executions are bounded by retention policy and
// each entry is a few bytes.
func (n *Notifier) lockFor(executionID string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()

	lock, ok := n.locks[executionID]
	if !ok {
		lock = &sync.Mutex{}
		n.locks[executionID] = lock
	}
	return lock
}
