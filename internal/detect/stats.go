package detect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// medianAndMAD returns the median and median-absolute-deviation of values.
// values is copied before sorting so the caller's slice (and its window
// ordering) is left untouched.
func medianAndMAD(values []float64) (median, mad float64) {
	if len(values) == 0 {
		return 0, 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	sort.Float64s(deviations)
	mad = stat.Quantile(0.5, stat.Empirical, deviations, nil)

	return median, mad
}
