package tee

import (
	"cmp"
	"slices"
)

// OrderFunc reorders the merge buffer in place before it is dispatched.
type OrderFunc[T any] func(items []T)

// Ascending sorts smallest first.
func Ascending[T cmp.Ordered]() OrderFunc[T] {
	return func(items []T) { slices.Sort(items) }
}

// Descending sorts largest first.
func Descending[T cmp.Ordered]() OrderFunc[T] {
	return func(items []T) {
		slices.SortFunc(items, func(a, b T) int { return cmp.Compare(b, a) })
	}
}

// SortFunc sorts with compare, keeping equal items in arrival order.
func SortFunc[T any](compare func(a, b T) int) OrderFunc[T] {
	return func(items []T) { slices.SortStableFunc(items, compare) }
}
