package eval

import "math"

// converged reports whether worst and best are within tolerance of each
// other relative to the larger magnitude. A nil side always converges.
func converged(worst, best *float64, tolerance float64) bool {
	if worst == nil || best == nil {
		return true
	}
	w, b := *worst, *best
	return math.Abs(w-b) <= tolerance*math.Max(math.Abs(w), math.Abs(b))
}

// meanStd returns the mean and sample standard deviation of values.
// The deviation is nil with fewer than two values; both are nil for none.
func meanStd(values []float64) (mean, std *float64) {
	if len(values) == 0 {
		return nil, nil
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	if len(values) < 2 {
		return floatPtr(m), nil
	}

	sq := 0.0
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return floatPtr(m), floatPtr(math.Sqrt(sq / float64(len(values)-1)))
}
