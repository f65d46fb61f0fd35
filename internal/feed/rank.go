package feed

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Candidate exposes the ranking keys of a feed item.
type Candidate struct {
	ID        string
	Score     int
	Distance  float64
	CreatedAt time.Time
}

// Rank sorts items in place according to mode. Identifiers break any remaining
// ties so that pages over an unchanged set are stable.
func Rank[T any](items []T, mode SortMode, key func(T) Candidate) {
	slices.SortStableFunc(items, func(left, right T) int {
		return Compare(mode, key(left), key(right))
	})
}

// Compare orders two candidates under mode; negative means left ranks first.
func Compare(mode SortMode, left, right Candidate) int {
	switch mode {
	case SortPopular:
		if order := cmp.Compare(right.Score, left.Score); order != 0 {
			return order
		}
	case SortProximity:
		if order := cmp.Compare(left.Distance, right.Distance); order != 0 {
			return order
		}
	}
	if order := right.CreatedAt.Compare(left.CreatedAt); order != 0 {
		return order
	}
	return strings.Compare(right.ID, left.ID)
}
