package recipes

import (
	"errors"
	"fmt"
	"reflect"

	"recipe-api/internal/storage"
)

// Status is the externally observable result of an operation. The zero value
// is StatusInternalError so an unset Result never reads as success.
type Status int

const (
	StatusInternalError Status = iota
	StatusOK
	StatusNotFound
	StatusBadRequest
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusBadRequest:
		return "bad_request"
	default:
		return "internal_error"
	}
}

// Shape names the kind of operation a storage outcome belongs to. It decides
// whether a present value is echoed and what an absent record means.
type Shape int

const (
	ShapeRead Shape = iota + 1
	ShapeCreate
	ShapeBulkCreate
	ShapeUpdate
	ShapeDelete
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapeRead:
		return "read"
	case ShapeCreate:
		return "create"
	case ShapeBulkCreate:
		return "bulk_create"
	case ShapeUpdate:
		return "update"
	case ShapeDelete:
		return "delete"
	case ShapeList:
		return "list"
	default:
		return "unknown"
	}
}

func (s Shape) echoesValue() bool {
	switch s {
	case ShapeRead, ShapeCreate, ShapeBulkCreate, ShapeList:
		return true
	default:
		return false
	}
}

// creates reports whether the shape writes a new record, where the datastore
// is never expected to report an absent one.
func (s Shape) creates() bool {
	return s == ShapeCreate || s == ShapeBulkCreate
}

var errAbsentOnCreate = errors.New("datastore reported no record for a create")

// Result is the transport-agnostic outcome of an operation. Body is nil for
// acknowledgments and error results. Err carries the classified cause of any
// non-OK status.
type Result struct {
	Status Status
	Body   any
	Err    error
}

// HasBody reports whether the result carries a payload for the caller.
func (r Result) HasBody() bool {
	return r.Body != nil
}

// BadRequest builds the result of a rejected input.
func BadRequest(err error) Result {
	return Result{Status: StatusBadRequest, Err: err}
}

// Mediate translates a storage outcome into a Result for the given shape. It
// depends on nothing but its arguments.
func Mediate[T any](outcome storage.Outcome[T], shape Shape) Result {
	switch outcome.Kind() {
	case storage.OutcomePresent:
		if !shape.echoesValue() {
			return Result{Status: StatusOK}
		}
		value, _ := outcome.Value()
		return Result{Status: StatusOK, Body: normalizeBody(value)}
	case storage.OutcomeAbsent:
		if shape.creates() {
			return Result{Status: StatusInternalError, Err: fmt.Errorf("%w: %s: %w", ErrInfrastructure, shape, errAbsentOnCreate)}
		}
		return Result{Status: StatusNotFound, Err: ErrRecordAbsent}
	default:
		return Result{Status: StatusInternalError, Err: fmt.Errorf("%w: %s: %w", ErrInfrastructure, shape, outcome.Err())}
	}
}

// normalizeBody turns a nil slice into an empty one so collections always
// render as a list.
func normalizeBody(value any) any {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return reflect.MakeSlice(rv.Type(), 0, 0).Interface()
	}
	return value
}
