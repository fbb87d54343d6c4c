// Package sweep runs named background tasks on a jittered period.
package sweep

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// Task is one pass of a periodic job. It must honor ctx cancellation.
type Task func(ctx context.Context)

// Runner invokes a task on a jittered interval. Jitter staggers
// replicas sharing a database so their sweeps do not align; a pass
// still in flight when the next tick fires is skipped, never stacked.
type Runner struct {
	name     string
	interval time.Duration
	jitter   time.Duration
	task     Task
	logger   *slog.Logger

	running atomic.Bool
}

// NewRunner creates a runner for the named task. Each tick fires between
// interval and interval+jitter after the previous one.
func NewRunner(name string, interval, jitter time.Duration, task Task, logger *slog.Logger) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		jitter:   jitter,
		task:     task,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled. It blocks; callers start it on its
// own goroutine.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("sweep started", "task", r.name, "interval", r.interval.String())

	timer := time.NewTimer(r.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sweep stopped", "task", r.name)
			return
		case <-timer.C:
			go r.runOnce(ctx)
			timer.Reset(r.nextDelay())
		}
	}
}

// runOnce executes a single pass unless the previous one is still
// running.
func (r *Runner) runOnce(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("sweep pass skipped, previous still running", "task", r.name)
		return
	}
	defer r.running.Store(false)

	start := time.Now()
	r.task(ctx)
	r.logger.Debug("sweep pass complete", "task", r.name, "elapsed", time.Since(start).String())
}

func (r *Runner) nextDelay() time.Duration {
	if r.jitter <= 0 {
		return r.interval
	}
	return r.interval + time.Duration(rand.Int63n(int64(r.jitter)))
}
