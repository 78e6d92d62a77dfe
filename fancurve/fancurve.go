// Package fancurve evaluates the optional fan output stage present on
// later hardware revisions (§4.6). The fan is driven from the larger of
// the two channels' most recent |PID output|, normalized against the
// TEC's maximum rated current.
package fancurve

import (
	"errors"

	"github.com/nasa-jpl/tecsrv/util"
)

// ErrOutOfRange is returned by SetManual for an out-of-range percentage.
var ErrOutOfRange = errors.New("fancurve: manual power must be in 1..100")

// MaxTECCurrent is the TEC's maximum rated current in amps, used to
// normalize the curve's input.
const MaxTECCurrent = 6.0

// Mode selects between curve-driven and manually-forced fan power.
type Mode int

const (
	Auto Mode = iota
	Manual
)

// Curve holds the quadratic fan-power coefficients: power = a*x^2+b*x+c,
// clamped to [0, 1].
type Curve struct {
	A, B, C float64
}

// Default returns the factory curve (a=1, b=0, c=0 per §4.6).
func Default() Curve {
	return Curve{A: 1, B: 0, C: 0}
}

// Evaluate computes fan power in [0, 1] from the larger-magnitude PID
// output across both channels.
func (c Curve) Evaluate(absMaxTECCurrent float64) float64 {
	x := absMaxTECCurrent / MaxTECCurrent
	power := c.A*x*x + c.B*x + c.C
	return util.Clamp(power, 0, 1)
}

// AbsMax returns the larger of two channel current magnitudes, the x
// input to Evaluate.
func AbsMax(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// Controller tracks the fan's mode, curve, and manual override and
// produces the power level to apply on each tick.
type Controller struct {
	Mode    Mode
	Curve   Curve
	manualP float64 // 0..1, set via SetManual
}

// NewController returns a Controller in Auto mode with the default curve.
func NewController() *Controller {
	return &Controller{Mode: Auto, Curve: Default()}
}

// SetManual switches to Manual mode and sets power directly from a
// 1..100 integer input per the command grammar.
func (c *Controller) SetManual(pct int) error {
	if pct < 1 || pct > 100 {
		return ErrOutOfRange
	}
	c.Mode = Manual
	c.manualP = float64(pct) / 100.0
	return nil
}

// SetAuto switches back to curve-driven operation.
func (c *Controller) SetAuto() {
	c.Mode = Auto
}

// Power returns the fan power to apply this tick given the larger
// channel's |PID output|.
func (c *Controller) Power(absMaxTECCurrent float64) float64 {
	if c.Mode == Manual {
		return c.manualP
	}
	return c.Curve.Evaluate(absMaxTECCurrent)
}
