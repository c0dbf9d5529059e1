// Package mathx holds the small numeric helpers shared by the counter and the reconstructor.
package mathx

// Round rounds a non-negative float to the nearest "unit" (1 for integers, 0.1 for tenths, and so on).
// Halves round up.
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// MinMax returns the smallest and largest values in s.  Both are 0 for an empty slice.
func MinMax(s []float32) (min, max float32) {
	if len(s) == 0 {
		return 0, 0
	}
	min, max = s[0], s[0]
	for _, v := range s[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Rescale linearly maps x from [inLo, inHi] onto [outLo, outHi].
// inLo == inHi divides by zero; callers check first.
func Rescale(x, inLo, inHi, outLo, outHi float32) float32 {
	return outLo + (x-inLo)*(outHi-outLo)/(inHi-inLo)
}
