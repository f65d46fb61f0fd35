// Package paging turns optional page/limit query parameters into a result window.
package paging

import (
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultPage is used when paging is requested without a usable page number.
	DefaultPage = 1
	// DefaultLimit is used when paging is requested without a usable limit.
	DefaultLimit = 10
)

// Window selects a contiguous slice of a ranked sequence.
// The zero value is unrestricted and selects everything.
type Window struct {
	paged bool
	page  int
	limit int
}

// Unrestricted returns a window covering the entire sequence.
func Unrestricted() Window {
	return Window{}
}

// Page returns a paged window. Non-positive values fall back to the defaults.
func Page(page, limit int) Window {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return Window{paged: true, page: page, limit: limit}
}

// Parse builds a window from raw query values. The mode is decided by presence
// alone: when neither parameter was supplied the window is unrestricted, otherwise
// unparsable or missing values take their defaults.
func Parse(rawPage string, pageSupplied bool, rawLimit string, limitSupplied bool) Window {
	if !pageSupplied && !limitSupplied {
		return Unrestricted()
	}
	return Page(parseLeadingInt(rawPage), parseLeadingInt(rawLimit))
}

// parseLeadingInt reads the leading decimal digits of value, so "2abc" yields 2
// and anything without leading digits yields 0.
func parseLeadingInt(value string) int {
	trimmed := strings.TrimSpace(value)
	end := 0
	if end < len(trimmed) && (trimmed[end] == '-' || trimmed[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(trimmed) && trimmed[end] >= '0' && trimmed[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}
	parsed, err := strconv.Atoi(trimmed[:end])
	if err != nil {
		return 0
	}
	return parsed
}

// Paged reports whether the window restricts the sequence.
func (w Window) Paged() bool {
	return w.paged
}

// PageNumber returns the one-based page number, or zero for unrestricted windows.
func (w Window) PageNumber() int {
	return w.page
}

// Limit returns the page size, or zero for unrestricted windows.
func (w Window) Limit() int {
	return w.limit
}

// Offset returns the number of leading items skipped by the window. Offsets
// past math.MaxInt saturate, so such windows select nothing.
func (w Window) Offset() int {
	if !w.paged {
		return 0
	}
	if w.page-1 > math.MaxInt/w.limit {
		return math.MaxInt
	}
	return (w.page - 1) * w.limit
}

// Bounds clamps the window to a sequence of the given length.
func (w Window) Bounds(length int) (int, int) {
	if !w.paged {
		return 0, length
	}
	start := min(w.Offset(), length)
	end := start + min(w.limit, length-start)
	return start, end
}

// Slice applies the window to items.
func Slice[T any](items []T, window Window) []T {
	start, end := window.Bounds(len(items))
	return items[start:end]
}
