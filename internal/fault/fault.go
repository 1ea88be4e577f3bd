// Package fault defines the error taxonomy shared by the executor, dedup
// engine, circuit breaker, and API layer. Kinds decide whether an error is
// absorbed into result counters or terminates the job.
package fault

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindPolicyRejection: circuit open or rate-limited. Expected, non-fatal;
	// ends the job attempt early and never counts as a provider failure.
	KindPolicyRejection Kind = "policy_rejection"
	// KindValidation: missing required parameter or malformed input. Fatal for
	// the single job, no retry, no side effects before the check.
	KindValidation Kind = "validation"
	// KindProvider: the external call failed or returned no usable dataset.
	// Fatal for the job; recorded against the circuit breaker.
	KindProvider Kind = "provider"
	// KindRecord: one lead failed to construct or stage. Local, counted, never
	// fails the batch.
	KindRecord Kind = "record"
	// KindStorage: a non-fatal storage lookup failed (e.g. duplicate check).
	// Degraded-mode recoverable.
	KindStorage Kind = "storage"
	// KindCommit: the final batch persistence failed. Fatal, full rollback.
	KindCommit Kind = "commit"
	// KindInvalidState: an operation is illegal in the entity's current state
	// (cancel on a terminal job, breaker already in target state).
	KindInvalidState Kind = "invalid_state"
	// KindNotFound: the referenced entity does not exist. Fatal, no retry.
	KindNotFound Kind = "not_found"
	// KindInfra: shared-state backend unreachable (redis, pool). Surfaced as
	// 500 at the API layer, never silently swallowed.
	KindInfra Kind = "infra"
)

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: eris.New(msg)}
}

// Newf creates a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Wrap annotates err with a kind and context message. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: eris.Wrap(err, msg)}
}

// Tag attaches a kind to err without altering its message, for cases where
// the original text must survive verbatim. Returns nil if err is nil.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or the empty Kind when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether err should terminate the job in FAILED state rather
// than be absorbed into result counters.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindProvider, KindCommit, KindNotFound, KindInfra:
		return true
	default:
		return false
	}
}
