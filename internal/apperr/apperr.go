// Package apperr defines the error kinds shared by the scheduling and
// execution pipeline. Callers branch on the kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	// Unknown is any error that was not classified.
	Unknown Kind = iota
	// InvalidSchedule is a malformed cron expression or time zone, or an
	// interval below the configured minimum.
	InvalidSchedule
	// Configuration is a missing or unusable provider credential.
	Configuration
	// Validation is model output that fails the table schema.
	Validation
	// Provider is a transport or API failure of an external provider.
	Provider
	// SearchUnavailable is an unconfigured or failing search provider.
	SearchUnavailable
	// NotFound is a missing task, run, result or snapshot.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidSchedule:
		return "invalid_schedule"
	case Configuration:
		return "configuration"
	case Validation:
		return "validation"
	case Provider:
		return "provider"
	case SearchUnavailable:
		return "search_unavailable"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a plain message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Errorf returns a classified error with a formatted message. %w is honored.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
