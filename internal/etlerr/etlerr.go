// Package etlerr defines the error taxonomy shared by the extract, transform
// and load stages.
//
// Stage failures wrap one of the sentinel errors so callers (the pipeline
// runner, the scheduler, an external orchestrator) can classify them with
// errors.Is without importing stage packages:
//
//	ErrSourceUnavailable  input file missing or unreadable      (fatal, retryable)
//	ErrMalformedRecord    row or header cannot be interpreted   (row: skipped; header: fatal)
//	ErrInvalidDate        date value matches no known layout    (row: skipped)
//	ErrConnection         destination unreachable               (fatal, retryable)
//	ErrWrite              destination rejected a batch          (fatal, retryable)
package etlerr

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrInvalidDate       = errors.New("invalid date")
	ErrConnection        = errors.New("connection error")
	ErrWrite             = errors.New("write error")
)

// RowError describes a single row that was rejected. It is never fatal to a
// run; the pipeline counts it and moves on.
type RowError struct {
	Source string // logical source name, e.g. "customers"
	Line   int    // 1-based source line
	Column string // offending column, if any
	Reason string // short machine-friendly reason, e.g. "invalid_date"
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s line %d: %s: %s: %v", e.Source, e.Line, e.Reason, e.Column, e.Err)
	}
	return fmt.Sprintf("%s line %d: %s: %v", e.Source, e.Line, e.Reason, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// WriteError reports a load that failed part-way. Committed rows stay in the
// destination; Failed rows were in the rejected batch or never attempted.
type WriteError struct {
	Committed int64
	Failed    int64
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write error: committed=%d failed=%d: %v", e.Committed, e.Failed, e.Err)
}

// Unwrap exposes both ErrWrite and the backend cause.
func (e *WriteError) Unwrap() []error { return []error{ErrWrite, e.Err} }

// Connection wraps err as a connection failure with a short context prefix.
func Connection(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, ErrConnection, err)
}

// SourceUnavailable wraps err as an unreadable source.
func SourceUnavailable(name string, err error) error {
	return fmt.Errorf("source %s: %w: %w", name, ErrSourceUnavailable, err)
}

// Retryable reports whether a whole-run retry can reasonably succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrWrite)
}
