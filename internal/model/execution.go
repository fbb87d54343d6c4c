package model

import "time"

// Execution status constants. The current status of an execution is the
// status of its most recent step, or StatusCreated when no step has been
// recorded yet.
const (
	StatusCreated   = "created"
	StatusPrepare   = "prepare"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// terminalStatuses is the set of statuses after which an execution's step
// log accepts no further appends.
var terminalStatuses = map[string]bool{
	StatusSuccess:   true,
	StatusError:     true,
	StatusTimeout:   true,
	StatusCancelled: true,
}

// TerminalStatus reports whether the given status ends an execution.
func TerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// Step is one timestamped entry in an execution's append-only history.
type Step struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Execution is one concrete, time-bounded run of a batch, tracked through
// an ordered step history. Steps are append-only; past entries are never
// edited.
type Execution struct {
	ID                 string        `json:"id"`
	BatchID            string        `json:"batch_id"`
	CorrelationID      string        `json:"correlation_id"`
	BatchCorrelationID string        `json:"batch_correlation_id"`
	Tenant             string        `json:"tenant"`
	User               string        `json:"user"`
	ProcessBusinessID  string        `json:"process_business_id"`
	ProcessName        string        `json:"process_name"`
	Inputs             []FileInput   `json:"inputs,omitempty"`
	ExpectedDuration   time.Duration `json:"expected_duration"`
	CreatedAt          time.Time     `json:"created_at"`
	Deadline           time.Time     `json:"deadline"`
	Steps              []Step        `json:"steps"`
	Version            int           `json:"version"`
	LastUpdated        time.Time     `json:"last_updated"`
}

// CurrentStatus returns the status of the last step, or StatusCreated when
// the step log is empty.
func (e *Execution) CurrentStatus() string {
	if len(e.Steps) == 0 {
		return StatusCreated
	}
	return e.Steps[len(e.Steps)-1].Status
}

// Terminal reports whether the execution has reached a terminal status.
func (e *Execution) Terminal() bool {
	return TerminalStatus(e.CurrentStatus())
}

// TotalInputBytes sums the declared sizes of the execution's input files.
func (e *Execution) TotalInputBytes() int64 {
	var total int64
	for _, in := range e.Inputs {
		total += in.Bytes
	}
	return total
}
