// Package util contains misc internal utilities.
package util

// Limiter holds an allowed range of values
type Limiter struct {
	Min float64
	Max float64
}

// Check returns true if v is within the limiter's range, inclusive
func (l Limiter) Check(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// Clamp forces v into the range low..high
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
