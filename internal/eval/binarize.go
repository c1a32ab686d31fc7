package eval

import "math"

// Cutoff returns how many of n ranked predictions fall above threshold,
// clamped to [0, n].
func Cutoff(n int, threshold Threshold) int {
	var cutoff int
	switch threshold.Unit {
	case Percentile:
		cutoff = int(math.Floor(float64(n) * threshold.Value / 100))
	default:
		cutoff = int(threshold.Value)
	}
	if cutoff < 0 {
		return 0
	}
	if cutoff > n {
		return n
	}
	return cutoff
}

// Binarize returns n predicted classes: 1 for the first Cutoff(n, threshold)
// positions of the ordering, 0 for the rest.
func Binarize(n int, threshold Threshold) []int8 {
	predicted := make([]int8, n)
	cutoff := Cutoff(n, threshold)
	for i := 0; i < cutoff; i++ {
		predicted[i] = 1
	}
	return predicted
}
