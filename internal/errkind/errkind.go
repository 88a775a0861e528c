// Package errkind classifies pipeline failures so callers can pick a
// recovery policy without matching on error strings or concrete types.
//
// Connection, capture, and device failures are recovered locally with retry
// or fallback and only surface through health status. Sync failures degrade
// the sample. Classification failures are absorbed by the deterministic
// fallback result. Persistence and delivery failures are the only kinds the
// analysis loop reports upward, since silently losing a record is not
// acceptable.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of a pipeline error.
type Kind int

const (
	Unknown Kind = iota
	// Connection: the remote capture service is unreachable.
	Connection
	// Capture: a screenshot request failed despite a live connection.
	Capture
	// Device: an audio device could not be opened or read.
	Device
	// Sync: no usable synchronized sample inside the skew bound.
	Sync
	// Classification: both scoring paths failed.
	Classification
	// Persistence: appending to the activity log failed.
	Persistence
	// Delivery: pushing a result to the notification sink failed.
	Delivery
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case Capture:
		return "capture"
	case Device:
		return "device"
	case Sync:
		return "sync"
	case Classification:
		return "classification"
	case Persistence:
		return "persistence"
	case Delivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Error carries a failure kind, the operation that produced it, and the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a literal message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, v ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, v...)}
}

// Wrap classifies an underlying error. It returns nil when err is nil so it
// can wrap return values directly.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, walking the wrap chain. Errors without a
// classification report Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
