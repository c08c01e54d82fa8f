// Package pagination parses limit/offset query parameters.
package pagination

import "strconv"

// Params holds validated listing bounds.
type Params struct {
	Limit  int
	Offset int
}

const (
	// DefaultLimit applies when the client sends no limit.
	DefaultLimit = 20
	// MaxLimit caps a single page.
	MaxLimit = 100
)

// Parse reads limit and offset query values. Missing or malformed values
// fall back to the defaults; out-of-range values are clamped.
func Parse(limitStr, offsetStr string) Params {
	p := Params{Limit: DefaultLimit}

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = l
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o > 0 {
			p.Offset = o
		}
	}

	return p
}
