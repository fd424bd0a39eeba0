package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a report job cannot be found
	ErrJobNotFound = errors.New("report job not found")

	// ErrOrderNotFound is returned when the referenced order does not exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrReportNotReady is returned when a download is requested before COMPLETED
	ErrReportNotReady = errors.New("report is not ready for download")

	// ErrArtifactNotFound is returned when a completed job has no stored bytes
	ErrArtifactNotFound = errors.New("report file not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is not PENDING
	ErrJobAlreadyClaimed = errors.New("report job already claimed or not in PENDING status")

	// ErrInvalidTransition is returned when a status write would break the state machine
	ErrInvalidTransition = errors.New("invalid report job status transition")

	// ErrDispatchUnavailable is returned when a created job could not be handed to the executor
	ErrDispatchUnavailable = errors.New("report executor unavailable")

	// ErrActiveJobExists matches any *ConflictError
	ErrActiveJobExists = errors.New("an active report job already exists")
)

// ValidationError reports a malformed request. No job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError is returned by submit when a PENDING or PROCESSING job
// already exists for the same (order, format) pair.
type ConflictError struct {
	OrderID        int64
	Format         Format
	ExistingJobID  string
	ExistingStatus Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a %s report is already being generated for order %d (job %s is %s)",
		e.Format, e.OrderID, e.ExistingJobID, e.ExistingStatus)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrActiveJobExists
}

// NotReadyError is returned by download for jobs that are not COMPLETED
type NotReadyError struct {
	JobID  string
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("report job %s is %s: %s", e.JobID, e.Status, ErrReportNotReady)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrReportNotReady
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
