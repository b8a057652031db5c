package hrv

import (
	"math"
	"sort"
)

// quantile returns the p-quantile of a sorted sample using midpoint
// interpolation: an integral rank selects the element, a fractional rank the
// midpoint of its two neighbors.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	if float64(lo) == h {
		return sorted[lo]
	}
	return (sorted[lo] + sorted[lo+1]) / 2
}

// quartileDeviation is (Q3 - Q1) / 2 of the sample.
func quartileDeviation(sample []float64) float64 {
	s := append([]float64(nil), sample...)
	sort.Float64s(s)
	return (quantile(s, 0.75) - quantile(s, 0.25)) / 2
}

// median of the sample; even lengths average the two middle elements.
func median(sample []float64) float64 {
	s := append([]float64(nil), sample...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// centeredWindow returns the slice bounds of a centered window of the given
// size around i, shrinking at the edges (never wrapping or padding).
func centeredWindow(i, n, size int) (lo, hi int) {
	half := size / 2
	lo = i - half
	if lo < 0 {
		lo = 0
	}
	hi = i + half + 1
	if hi > n {
		hi = n
	}
	return lo, hi
}

// rollingThreshold computes, for every index, alpha times the quartile
// deviation of a centered window over series, floored at floor.
func rollingThreshold(series []float64, size int, alpha, floor float64) []float64 {
	n := len(series)
	out := make([]float64, n)
	for i := range series {
		lo, hi := centeredWindow(i, n, size)
		th := alpha * quartileDeviation(series[lo:hi])
		if th < floor {
			th = floor
		}
		out[i] = th
	}
	return out
}

// rollingMedian computes the centered shrinking-window median of series.
func rollingMedian(series []float64, size int) []float64 {
	n := len(series)
	out := make([]float64, n)
	for i := range series {
		lo, hi := centeredWindow(i, n, size)
		out[i] = median(series[lo:hi])
	}
	return out
}
