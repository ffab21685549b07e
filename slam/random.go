package slam

import "math/rand"

// sampleNormal draws an approximately normal value with mean 0 and
// standard deviation b by summing twelve uniform samples in [-1, 1].
func sampleNormal(rng *rand.Rand, b float64) float64 {
	if b == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < 12; i++ {
		sum += (rng.Float64()*2 - 1) * b
	}
	return sum / 2
}
