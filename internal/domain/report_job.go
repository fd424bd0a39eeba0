package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a report job
type Status string

// Report job status constants
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Format is the output format of a report
type Format string

// Supported report formats
const (
	FormatCSV Format = "CSV"
	FormatPDF Format = "PDF"
)

// IsActive reports whether the job still occupies its (order, format) admission slot
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsTerminal reports whether no further transitions can happen
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is an edge of
// PENDING -> PROCESSING -> {COMPLETED, FAILED}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseFormat normalizes and validates a format name ("csv", "PDF", ...)
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", &ValidationError{Field: "format", Message: fmt.Sprintf("unsupported report format %q (expected CSV or PDF)", raw)}
	}
	return f, nil
}

// Valid reports whether f is a supported format
func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatPDF
}

// Extension returns the file extension without the leading dot
func (f Format) Extension() string {
	return strings.ToLower(string(f))
}

// ContentType returns the MIME type used when delivering the artifact
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Artifact describes the rendered bytes of a completed job. The bytes live in
// an artifact store under Key.
type Artifact struct {
	Key         string
	FileName    string
	Size        int64
	ContentType string
}

// ReportJob is one request to render a report for one order in one format
type ReportJob struct {
	ID          string
	OrderID     int64
	Format      Format
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Artifact    *Artifact
	ErrorDetail string

	// Order summary joined in on reads; empty on lifecycle writes
	OrderName       string
	OrderTotalCents int64
}

// FileName returns the download filename, falling back to report_<id>.<ext>
// when no artifact metadata is stored.
func (j *ReportJob) FileName() string {
	if j.Artifact != nil && j.Artifact.FileName != "" {
		return j.Artifact.FileName
	}
	return fmt.Sprintf("report_%s.%s", j.ID, j.Format.Extension())
}

// Clone returns a deep copy so callers never share mutable state with a store
func (j *ReportJob) Clone() *ReportJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Artifact != nil {
		a := *j.Artifact
		c.Artifact = &a
	}
	return &c
}

// JobMessage is the payload published to the executor queue
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
