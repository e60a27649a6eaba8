package recipes

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"recipe-api/internal/storage"
)

// PaginationState classifies a page/size pair.
type PaginationState int

const (
	PaginationFullyEmpty PaginationState = iota
	PaginationFullySet
	PaginationPartiallySet
)

func (s PaginationState) String() string {
	switch s {
	case PaginationFullyEmpty:
		return "fully_empty"
	case PaginationFullySet:
		return "fully_set"
	default:
		return "partially_set"
	}
}

// Pagination is the optional page/size pair of a list request. Page is
// zero-based.
type Pagination struct {
	Page *int64
	Size *int64
}

// Paginate builds a fully set pagination request.
func Paginate(page, size int64) Pagination {
	return Pagination{Page: &page, Size: &size}
}

// ParsePagination reads page and size from a query string. A parameter that
// is present must be a non-negative 32-bit integer; the pair is classified
// later so a lone parameter still parses.
func ParsePagination(values url.Values) (Pagination, error) {
	var p Pagination
	for _, field := range []struct {
		name string
		dest **int64
	}{
		{"page", &p.Page},
		{"size", &p.Size},
	} {
		if !values.Has(field.name) {
			continue
		}
		raw := values.Get(field.name)
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			return Pagination{}, fmt.Errorf("%w: %s=%q", ErrMalformedPagination, field.name, raw)
		}
		*field.dest = &parsed
	}
	return p, nil
}

// Classify reports which of the three pagination states p is in.
func (p Pagination) Classify() PaginationState {
	switch {
	case p.Page != nil && p.Size != nil:
		return PaginationFullySet
	case p.Page == nil && p.Size == nil:
		return PaginationFullyEmpty
	default:
		return PaginationPartiallySet
	}
}

// Bounds converts p into datastore bounds. A fully empty request yields nil
// bounds; a partially set one is rejected.
func (p Pagination) Bounds() (*storage.Bounds, error) {
	switch p.Classify() {
	case PaginationFullyEmpty:
		return nil, nil
	case PaginationFullySet:
		page, size := *p.Page, *p.Size
		if page < 0 || size < 0 || (size > 0 && page > math.MaxInt64/size) {
			return nil, fmt.Errorf("%w: page=%d size=%d", ErrMalformedPagination, page, size)
		}
		return &storage.Bounds{Page: page, Size: size}, nil
	default:
		return nil, ErrPartialPagination
	}
}

func (p Pagination) logValue() map[string]any {
	out := make(map[string]any, 2)
	if p.Page != nil {
		out["page"] = *p.Page
	}
	if p.Size != nil {
		out["size"] = *p.Size
	}
	return out
}
