package model

import "time"

// FileInput declares one input file of an execution. Internal files live in
// the platform's content-addressed storage and are fetched by checksum with
// tenant/user impersonation; external files are fetched from their URL,
// possibly through a proxy.
type FileInput struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Bytes    int64  `json:"bytes"`
	Internal bool   `json:"internal"`
}

// Batch is a validated, persisted description of what to run: a process,
// its parameters, and the input filesets grouped by dataset. Batches are
// immutable once created.
type Batch struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	ProcessName   string                 `json:"process_name"`
	Tenant        string                 `json:"tenant"`
	User          string                 `json:"user"`
	UserRole      string                 `json:"user_role"`
	Parameters    map[string]string      `json:"parameters,omitempty"`
	Filesets      map[string][]FileInput `json:"filesets,omitempty"`
	ReplaceMode   bool                   `json:"replace_mode"`
	Persisted     bool                   `json:"-"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TotalInputBytes sums the declared sizes of all files across the batch's
// filesets.
func (b *Batch) TotalInputBytes() int64 {
	var total int64
	for _, fs := range b.Filesets {
		for _, f := range fs {
			total += f.Bytes
		}
	}
	return total
}

// FileCount returns the number of declared input files across all filesets.
func (b *Batch) FileCount() int {
	var n int
	for _, fs := range b.Filesets {
		n += len(fs)
	}
	return n
}
