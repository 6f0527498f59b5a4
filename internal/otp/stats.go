package otp

import "math"

// welfordState holds running statistics using Welford's online algorithm,
// which is numerically stable and O(1) per observation.
type welfordState struct {
	count int
	mean  float64
	m2    float64
}

func (w *welfordState) update(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	delta2 := value - w.mean
	w.m2 += delta * delta2
}

// stddev returns the population standard deviation, or 0 with fewer than
// two observations.
func (w *welfordState) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}
