package model

// Constraint violation categories, in the order the batch checker reports
// them.
const (
	CategoryQuota      = "quota"
	CategoryRights     = "rights"
	CategoryParameters = "parameters"
)

// ConstraintViolation is one reason a batch request is unacceptable. It is
// a value, never persisted; violations are aggregated into a rejection that
// shows the caller every reason at once.
type ConstraintViolation struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
