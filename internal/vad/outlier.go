package vad

import (
	"math"
	"slices"
)

// FilterOutliers returns a copy of values with every element whose robust
// z-score (absolute deviation from the median divided by the median absolute
// deviation) exceeds margin replaced by NaN. NaN inputs are ignored by the
// statistics and stay NaN.
//
// With fewer than three finite values the median absolute deviation is not
// meaningful and the values are returned unchanged. A zero deviation makes
// every value off the median an outlier.
func FilterOutliers(values []float64, margin float64) []float64 {
	out := slices.Clone(values)

	finite := finiteValues(values)
	if len(finite) < 3 {
		return out
	}

	center := median(finite)
	deviations := make([]float64, len(finite))
	for i, v := range finite {
		deviations[i] = math.Abs(v - center)
	}
	mad := median(deviations)
	if math.IsNaN(mad) || math.IsInf(mad, 0) {
		return out
	}

	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		d := math.Abs(v - center)
		if mad == 0 {
			if d > 0 {
				out[i] = math.NaN()
			}
			continue
		}
		if d/mad > margin {
			out[i] = math.NaN()
		}
	}
	return out
}

// median returns the middle value of xs, averaging the two central values
// for even lengths. It returns NaN for an empty slice.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func finiteValues(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
