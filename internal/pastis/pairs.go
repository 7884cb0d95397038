package pastis

import "iter"

// ModePairs yields every unordered pair (i, j) with i <= j < n exactly once,
// row by row. The diagonal pairs (i, i) are included.
func ModePairs(n int) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				if !yield(i, j) {
					return
				}
			}
		}
	}
}

// NumPairs is n(n+1)/2.
func NumPairs(n int) int {
	if n <= 0 {
		return 0
	}
	return n * (n + 1) / 2
}
