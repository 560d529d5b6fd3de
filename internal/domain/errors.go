package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks configuration values rejected at startup.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch is returned when a vector's length disagrees
	// with the index's established dimension. The index is left unchanged.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexLoad is returned when a persisted index is missing or
	// corrupt. The caller decides whether starting empty is acceptable.
	ErrIndexLoad = errors.New("index load failed")
)

// IngestionError reports a single document that could not be ingested.
// A batch continues past these.
type IngestionError struct {
	Source string
	Reason string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s", e.Source, e.Reason)
}

// ServiceError wraps a failed call to an external embedding or generation
// service. Transient failures (timeout, 429, 5xx) qualify for a single
// retry; everything else is surfaced immediately.
type ServiceError struct {
	Service   string // "embedding" or "generation"
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a ServiceError marked transient.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient
}
