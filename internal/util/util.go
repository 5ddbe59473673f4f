package util

import (
	"slices"
)

func SlicesEqual[V comparable](a, b []V) bool {
	return slices.Equal(a, b)
}

func FastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
