package process

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/datalith/procflow/internal/model"
)

// ForecastFunc estimates how long a process will run over the given total
// input size.
type ForecastFunc func(totalInputBytes int64) time.Duration

// Process is a named, pluggable unit of work. Definitions are loaded from
// configuration at startup and are immutable afterwards.
type Process struct {
	Name               string
	BusinessID         uuid.UUID
	Forecast           ForecastFunc
	RequiredParameters []string
	Engine             Engine
}

// Engine runs a process over a prepared execution context. Implementations
// report progress exclusively through the context's notifier and record
// produced files through its output recorder. The passed context carries
// the execution's deadline; engines that want to stop at timeout react to
// it, the orchestrator never kills them.
type Engine interface {
	Run(ctx context.Context, ec *Context) error
}

// Notifier accepts step events for an execution and persists them.
type Notifier interface {
	Notify(ctx context.Context, executionID, status, message string) error
}

// OutputRecorder registers a file produced by an execution.
type OutputRecorder interface {
	Record(ctx context.Context, file *model.OutputFile) error
}

// Downloader retrieves declared input files into the execution's workdir.
type Downloader interface {
	Download(ctx context.Context, ec *Context, input model.FileInput, dest string) (string, error)
	DownloadAll(ctx context.Context, ec *Context, dir string) ([]string, error)
}

// ObjectStorage is the shared-storage handle engines write outputs to.
// Content is addressed by key, so concurrent executions need no
// coordination beyond key uniqueness.
type ObjectStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// Context is the ephemeral bundle of resources given to an engine for one
// run: the exclusive workdir, the shared-storage handle, the
// execution/batch/process triple, and the collaborators bound to this
// execution. It is owned by a single in-flight run and discarded after the
// engine returns.
type Context struct {
	Workdir    string
	Execution  *model.Execution
	Batch      *model.Batch
	Process    *Process
	Storage    ObjectStorage
	Notifier   Notifier
	Outputs    OutputRecorder
	Downloader Downloader
}
