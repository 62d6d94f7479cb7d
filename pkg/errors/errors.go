package concord_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")

	// Ingestion taxonomy. Every error escaping a handler is matched
	// against these and converted into a disposition; nothing crosses
	// the ingest boundary unclassified.
	ErrMalformedEvent       = errors.New("malformed event")
	ErrUnknownSender        = errors.New("unknown sender")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrTransientStorage     = errors.New("transient storage failure")
	ErrConsistencyViolation = errors.New("consistency violation")
)

// Disposition tells the caller what to do with the event that produced
// an error: acknowledge it so it is never redelivered, drop it without
// acknowledging anything, or retry the whole unit of work.
type Disposition int

const (
	DispositionApplied Disposition = iota
	DispositionDiscardAndAck
	DispositionDiscardSilently
	DispositionRetry
)

func (d Disposition) String() string {
	switch d {
	case DispositionApplied:
		return "applied"
	case DispositionDiscardAndAck:
		return "discard_and_ack"
	case DispositionDiscardSilently:
		return "discard_silently"
	case DispositionRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Classify maps an error to its disposition. Unrecognized errors are
// treated as transient storage failures and retried: ingestion is
// idempotent per stable reference, so a spurious retry is safe while a
// spurious discard loses content.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionApplied
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrConsistencyViolation):
		return DispositionDiscardAndAck
	case errors.Is(err, ErrUnknownSender), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInvalidTransition):
		return DispositionDiscardSilently
	default:
		return DispositionRetry
	}
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
