package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewCorrelationID generates a correlation id for requests that arrive
// without one. Correlation ids are opaque strings; callers may supply
// their own.
func NewCorrelationID() string {
	return uuid.NewString()
}
