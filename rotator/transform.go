package rotator

// A Transform maps a physical (azimuth, elevation) pair to its display
// representation. The core always tracks physical degrees; transforms are
// display-only and applied by front ends.
type Transform func(az, el float64) (float64, float64)

// Identity returns angles unchanged.
func Identity(az, el float64) (float64, float64) {
	return az, el
}

// HorizonReferenced reports elevation relative to the horizontal reference
// used by some installations: physical 90 (neutral) maps to 0, the stock
// lower stop at 45 to -45, the upper stop at 135 to +45.
func HorizonReferenced(az, el float64) (float64, float64) {
	return az, el - 90
}
