package recipes

import "errors"

var (
	// ErrMissingIdentifier is returned when a request carries no recipe id.
	ErrMissingIdentifier = errors.New("recipe id is required")
	// ErrMalformedIdentifier is returned for ids that are not 24 character
	// hexadecimal object ids.
	ErrMalformedIdentifier = errors.New("recipe id must be a 24 character hexadecimal object id")
	// ErrPartialPagination is returned when only one of page and size is given.
	ErrPartialPagination = errors.New("page and size must be provided together")
	// ErrMalformedPagination is returned when page or size is not a
	// non-negative integer.
	ErrMalformedPagination = errors.New("page and size must be non-negative integers")
	// ErrMalformedBody is returned when a request body cannot be decoded into
	// recipes.
	ErrMalformedBody = errors.New("request body is malformed")
	// ErrEmptyBatch is returned when a bulk insert carries no recipes.
	ErrEmptyBatch = errors.New("at least one recipe is required")
	// ErrRecordAbsent marks a result whose target recipe does not exist.
	ErrRecordAbsent = errors.New("recipe not found")
	// ErrInfrastructure wraps datastore failures.
	ErrInfrastructure = errors.New("recipe storage failure")
)

// IsInvalidInput reports whether err is one of the input validation errors
// that never reach the datastore.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrMalformedIdentifier) ||
		errors.Is(err, ErrPartialPagination) ||
		errors.Is(err, ErrMalformedPagination) ||
		errors.Is(err, ErrMalformedBody) ||
		errors.Is(err, ErrEmptyBatch)
}
