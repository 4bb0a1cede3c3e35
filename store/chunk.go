package store

import "golang.org/x/exp/constraints"

// chunk splits s into contiguous slices of at most size elements each,
// so a single EnqueueBatch call with an unbounded caller-supplied slice
// still commits in transactions of bounded size.
func chunk[T any, N constraints.Integer](s []T, size N) [][]T {
	n := int(size)
	if n <= 0 || len(s) <= n {
		return [][]T{s}
	}
	var out [][]T
	for len(s) > 0 {
		end := n
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}
