package model

import "time"

// OutputFile tracks a file produced by an execution through its lifecycle:
// created by the process engine, flagged downloaded on client
// acknowledgment, flagged deleted once purged from shared storage.
type OutputFile struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	ObjectKey   string    `json:"object_key"`
	Name        string    `json:"name"`
	Bytes       int64     `json:"bytes"`
	Checksum    string    `json:"checksum,omitempty"`
	Downloaded  bool      `json:"downloaded"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
}
