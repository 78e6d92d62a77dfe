// Package util contains the small numeric helpers shared across the
// control-loop packages: clamping a value into a range, and the
// Limiter type that carries a [Min, Max] pair through config and the
// PID state (§3, §4.5).
package util

// Clamp limits input to [min, max].
func Clamp(input, min, max float64) float64 {
	if input < min {
		return min
	}
	if input > max {
		return max
	}
	return input
}

// Limiter represents a basic set of min, max limits, used for the PID's
// output and integral clamps (§3).
type Limiter struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp limits input to [l.Min, l.Max].
func (l *Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Check reports whether input falls within [l.Min, l.Max].
func (l *Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}
