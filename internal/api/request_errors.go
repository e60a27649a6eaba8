package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"recipe-api/internal/recipes"
)

// RequestError is an error that already knows the HTTP status it maps to.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed request.
func ValidationError(err error) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Err: err}
}

func ServiceUnavailableError(message string) *RequestError {
	return &RequestError{Status: http.StatusServiceUnavailable, Message: message}
}

// TooManyRequestsError reports a request rejected by rate limiting.
func TooManyRequestsError(message string) *RequestError {
	return &RequestError{Status: http.StatusTooManyRequests, Message: message}
}

// WriteRequestError renders err with its own status when it is a
// RequestError and as an opaque 500 otherwise.
func WriteRequestError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.Status, reqErr)
		return
	}
	writeError(w, http.StatusInternalServerError, errInternal)
}

// WriteMethodNotAllowed responds with 405 and advertises the allowed methods.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

// decodeBody decodes the request body into dest. Every failure wraps
// recipes.ErrMalformedBody.
func decodeBody(r *http.Request, dest interface{}) error {
	if err := decodeJSON(r, dest); err != nil {
		return fmt.Errorf("%w: %v", recipes.ErrMalformedBody, err)
	}
	return nil
}
