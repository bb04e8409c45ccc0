package spectral

import "math"

// Flatness maps the spread of a magnitude spectrum to (0, 1]:
// 1 / (1 + σ) with σ the population standard deviation. A perfectly flat
// spectrum scores 1; energy concentrated in few bins pushes the score to 0.
func Flatness(mags []float64) float64 {
	if len(mags) == 0 {
		return 1
	}

	var sum float64
	for _, m := range mags {
		sum += m
	}
	mean := sum / float64(len(mags))

	var sq float64
	for _, m := range mags {
		d := m - mean
		sq += d * d
	}
	variance := sq / float64(len(mags))

	return 1 / (1 + math.Sqrt(variance))
}
