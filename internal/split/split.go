// Public domain.

// Package split divides work lists into fragments for parallel workers.
package split

import "runtime"

// MaxBins is the largest bin count taken as given.  Larger requests fall
// back to the number of CPUs.
const MaxBins = 256

// Bins returns the number of fragments Split will produce for n items
// when asked for bins.
func Bins(n, bins int) int {
	if bins <= 0 || bins > MaxBins {
		bins = runtime.NumCPU()
	}
	if bins > n {
		bins = n
	}
	return bins
}

// Split divides items into at most bins non-empty fragments whose
// concatenation, in fragment order for preserveOrder or interleaved
// otherwise, holds every item exactly once.
//
// With preserveOrder fragments are contiguous runs whose sizes differ by
// at most one, larger runs first.  Otherwise item i goes to fragment
// i mod bins.
func Split[T any](items []T, bins int, preserveOrder bool) [][]T {
	b := Bins(len(items), bins)
	if b == 0 {
		return nil
	}
	out := make([][]T, b)
	if preserveOrder {
		q, r := len(items)/b, len(items)%b
		start := 0
		for i := range out {
			n := q
			if i < r {
				n++
			}
			out[i] = items[start : start+n : start+n]
			start += n
		}
		return out
	}
	for i := range out {
		out[i] = make([]T, 0, (len(items)+b-1-i)/b)
	}
	for i, it := range items {
		out[i%b] = append(out[i%b], it)
	}
	return out
}
