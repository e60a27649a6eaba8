package storage

import (
	"errors"
	"fmt"
)

// OutcomeKind tags the three states a datastore call can end in.
type OutcomeKind int

const (
	// OutcomeInfrastructureFailure means the datastore could not complete the
	// call. It is the zero value so an unset Outcome never reads as success.
	OutcomeInfrastructureFailure OutcomeKind = iota
	// OutcomeAbsent means the call completed but the targeted record does not exist.
	OutcomeAbsent
	// OutcomePresent means the call completed and produced or affected a record.
	OutcomePresent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAbsent:
		return "absent"
	case OutcomePresent:
		return "present"
	default:
		return "infrastructure_failure"
	}
}

// ErrUnsetOutcome is reported by the zero Outcome.
var ErrUnsetOutcome = errors.New("storage outcome not set")

// Unit is the payload of outcomes that only confirm a record was affected.
type Unit struct{}

// Outcome is the result of every Repository call: an infrastructure failure,
// an absent record, or a present value.
type Outcome[T any] struct {
	kind  OutcomeKind
	value T
	err   error
}

// Present wraps a value produced by a successful call.
func Present[T any](value T) Outcome[T] {
	return Outcome[T]{kind: OutcomePresent, value: value}
}

// Absent reports a successful call whose target record does not exist.
func Absent[T any]() Outcome[T] {
	return Outcome[T]{kind: OutcomeAbsent}
}

// Failed reports a datastore failure. A nil error is replaced with
// ErrUnsetOutcome so the failure always carries a cause.
func Failed[T any](err error) Outcome[T] {
	if err == nil {
		err = ErrUnsetOutcome
	}
	return Outcome[T]{kind: OutcomeInfrastructureFailure, err: err}
}

// Failedf formats a datastore failure, wrapping any %w operands.
func Failedf[T any](format string, args ...any) Outcome[T] {
	return Failed[T](fmt.Errorf(format, args...))
}

// Kind returns the outcome tag.
func (o Outcome[T]) Kind() OutcomeKind {
	return o.kind
}

// Value returns the wrapped value and whether the outcome is present.
func (o Outcome[T]) Value() (T, bool) {
	if o.kind != OutcomePresent {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Err returns the infrastructure error, or nil for absent and present outcomes.
func (o Outcome[T]) Err() error {
	if o.kind != OutcomeInfrastructureFailure {
		return nil
	}
	if o.err == nil {
		return ErrUnsetOutcome
	}
	return o.err
}

// IsPresent reports whether the outcome carries a value.
func (o Outcome[T]) IsPresent() bool {
	return o.kind == OutcomePresent
}

// IsAbsent reports whether the targeted record was missing.
func (o Outcome[T]) IsAbsent() bool {
	return o.kind == OutcomeAbsent
}
