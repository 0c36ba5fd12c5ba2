package plantfeed

import (
	"errors"
	"fmt"
)

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantMisconfigured = errors.New("tenant misconfigured")
	ErrConnectionFailure   = errors.New("connection failure")
	ErrUnparseableInput    = errors.New("unparseable input")
	ErrUnknownFrequency    = errors.New("unknown frequency")
	ErrUnknownJob          = errors.New("unknown job")
	ErrInvalidDecision     = errors.New("invalid decision")
	ErrInvalidInput        = errors.New("invalid input")
)

// BatchWriteError reports a failed sample batch. Batches committed before
// the failing one stay committed; batches after it are never attempted.
type BatchWriteError struct {
	Batch int
	Rows  int
	Err   error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch %d write failed (%d rows): %v", e.Batch, e.Rows, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// ErrorKind returns the stable machine-readable kind for an error from the
// ingestion path, or "internal" when the error is not one of ours.
func ErrorKind(err error) string {
	var batchErr *BatchWriteError
	switch {
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrTenantMisconfigured):
		return "tenant_misconfigured"
	case errors.Is(err, ErrConnectionFailure):
		return "connection_failure"
	case errors.Is(err, ErrUnparseableInput):
		return "unparseable_input"
	case errors.Is(err, ErrUnknownFrequency):
		return "unknown_frequency"
	case errors.Is(err, ErrUnknownJob):
		return "unknown_job"
	case errors.Is(err, ErrInvalidDecision):
		return "invalid_decision"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &batchErr):
		return "batch_write_failure"
	default:
		return "internal"
	}
}
