// Package steinhart converts thermistor resistance to temperature using the
// Steinhart-Hart beta form.
package steinhart

import (
	"errors"
	"math"
)

// ErrInvalidParam is returned when a resistance or model parameter is
// outside the domain of the beta-form equation.
var ErrInvalidParam = errors.New("steinhart: invalid parameter")

// CelsiusToKelvin converts a Celsius temperature to Kelvin.
func CelsiusToKelvin(c float64) float64 {
	return c + 273.15
}

// KelvinToCelsius converts a Kelvin temperature to Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - 273.15
}

// Params holds the beta-form Steinhart-Hart coefficients for one channel.
//
// T0 and R0 must be a matched pair (R0 is the resistance the thermistor
// presents at T0), and B is the material's beta constant in kelvin.
type Params struct {
	T0 float64 // kelvin
	R0 float64 // ohms
	B  float64 // kelvin
}

// Validate checks the invariants in §3: R0 > 0, B > 0, T0 > 0.
func (p Params) Validate() error {
	if p.R0 <= 0 || p.B <= 0 || p.T0 <= 0 {
		return ErrInvalidParam
	}
	return nil
}

// Temperature converts a measured resistance in ohms to a temperature in
// kelvin using the beta-form equation:
//
//	1/T = 1/T0 + ln(R/R0)/B
//
// It fails with ErrInvalidParam if r <= 0 or the model parameters are
// themselves invalid.
func Temperature(r float64, p Params) (float64, error) {
	if r <= 0 {
		return 0, ErrInvalidParam
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	invT := 1/p.T0 + math.Log(r/p.R0)/p.B
	if invT == 0 {
		return 0, ErrInvalidParam
	}
	return 1 / invT, nil
}

// Resistance is the inverse of Temperature: given a temperature in kelvin,
// it returns the resistance the model predicts. It is not required by the
// control loop but is convenient for self-test (a (t0, R(t0), b) triple must
// round-trip to t0).
func Resistance(t float64, p Params) (float64, error) {
	if t <= 0 {
		return 0, ErrInvalidParam
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p.R0 * math.Exp(p.B*(1/t-1/p.T0)), nil
}
