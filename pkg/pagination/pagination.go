package pagination

import (
	"fmt"
	"strconv"
)

// Params represents pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Constants
const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
	MinLimit     = 1
)

// Parse parses pagination parameters from query string values
func Parse(pageStr, limitStr string) (*Params, error) {
	page := DefaultPage
	limit := DefaultLimit

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p >= 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < MinLimit:
			limit = MinLimit
		case l > MaxLimit:
			limit = MaxLimit
		default:
			limit = l
		}
	}

	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}

// Meta describes the page returned alongside the data.
type Meta struct {
	CurrentPage int  `json:"current_page"`
	Limit       int  `json:"limit"`
	HasMore     bool `json:"has_more"`
}

// BuildMeta creates page metadata; HasMore is inferred from a full page,
// matching the pull-based discovery contract (clients keep fetching
// until a short page).
func BuildMeta(params *Params, returned int) Meta {
	return Meta{
		CurrentPage: params.Page,
		Limit:       params.Limit,
		HasMore:     returned == params.Limit,
	}
}
