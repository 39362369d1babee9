// Package position computes fractional ordering keys for cards and lists.
//
// Keys are plain float64 comparison values. A new key can always be placed
// between two neighbours without touching any other row, at the cost of
// slowly losing precision when many inserts land on the same gap.
package position

// First is the key given to the only item of an empty collection.
const First = 1.0

// Between returns a key that sorts strictly between before and after.
// A nil neighbour means the insertion point is at that end of the list.
func Between(before, after *float64) float64 {
	switch {
	case before == nil && after == nil:
		return First
	case before == nil:
		return *after / 2
	case after == nil:
		return *before + 1
	default:
		return (*before + *after) / 2
	}
}

// Exhausted reports whether the gap between two neighbours is too small to
// hold another key. Only meaningful when both neighbours are present.
func Exhausted(before, after *float64) bool {
	if before == nil || after == nil {
		return false
	}
	mid := Between(before, after)
	return !(mid > *before && mid < *after)
}

// Spread returns n evenly spaced keys starting at First.
func Spread(n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = First + float64(i)
	}
	return keys
}

// Ptr is a convenience for passing literal neighbours to Between.
func Ptr(v float64) *float64 {
	return &v
}
