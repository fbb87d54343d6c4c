package download

import "fmt"

// QuotaExceededError signals that the internal storage collaborator
// refused a download because the acting user's quota is spent. It is not
// retried automatically; callers surface it so the user can wait or buy
// more quota.
type QuotaExceededError struct {
	ExecutionID string
	User        string
	Checksum    string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded for user %s requesting checksum %s (execution %s)",
		e.User, e.Checksum, e.ExecutionID)
}

// InternalError is a fatal non-2xx response from the internal storage
// collaborator.
type InternalError struct {
	ExecutionID string
	Checksum    string
	StatusCode  int
	Err         error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal download of %s failed (execution %s): %v",
			e.Checksum, e.ExecutionID, e.Err)
	}
	return fmt.Sprintf("internal download of %s failed with status %d (execution %s)",
		e.Checksum, e.StatusCode, e.ExecutionID)
}

func (e *InternalError) Unwrap() error { return e.Err }

// ExternalError is a network or HTTP failure fetching an external URL.
type ExternalError struct {
	ExecutionID string
	URL         string
	Err         error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external download of %s failed (execution %s): %v",
		e.URL, e.ExecutionID, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }
