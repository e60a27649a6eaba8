package recipes

import (
	"fmt"

	"github.com/go-openapi/strfmt"
)

// ID is a recipe identifier that has passed ValidateID.
type ID string

func (id ID) String() string {
	return string(id)
}

// ValidateID checks that raw is a 24 character hexadecimal object id and
// returns it unchanged.
func ValidateID(raw string) (ID, error) {
	if raw == "" {
		return "", ErrMissingIdentifier
	}
	if !strfmt.IsBSONObjectID(raw) {
		return "", fmt.Errorf("%w: %q", ErrMalformedIdentifier, raw)
	}
	return ID(raw), nil
}
