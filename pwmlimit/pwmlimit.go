// Package pwmlimit programs the three MAX1968 limit pins (max_v,
// max_i_pos, max_i_neg) from engineering-unit setpoints (§4.4).
//
// Two revisions of this board family exist in the field: one that
// accepts raw PWM duty ratios and one that accepts engineering units
// with the conversion done in firmware. Per the redesign decision in
// §9(b), this firmware always accepts engineering units; duty-cycle
// conversion is internal and never exposed on the command interface.
package pwmlimit

import (
	"fmt"

	"github.com/nasa-jpl/tecsrv/util"
)

// Coeffs are the linear volts/amps-to-duty coefficients for one PWM
// output: duty = offset + scale*value.
type Coeffs struct {
	Scale  float64
	Offset float64
}

// Board holds the three channels' conversion coefficients.
type Board struct {
	MaxV    Coeffs // volts -> duty
	MaxIPos Coeffs // amps -> duty
	MaxINeg Coeffs // amps -> duty (stored/programmed as a magnitude)
}

// DefaultBoard returns coefficients for the reference board, scaled so
// that the MAX1968's full linear range maps to duty 0..1.
func DefaultBoard() Board {
	return Board{
		MaxV:    Coeffs{Scale: 1.0 / 4.0, Offset: 0},  // 0..4V -> 0..1
		MaxIPos: Coeffs{Scale: 1.0 / 3.0, Offset: 0},  // 0..3A -> 0..1
		MaxINeg: Coeffs{Scale: 1.0 / 3.0, Offset: 0},  // 0..3A -> 0..1
	}
}

func (c Coeffs) duty(value float64) float64 {
	return util.Clamp(c.Offset+c.Scale*value, 0, 1)
}

// Outputs programs the three limit pins and reports the duty cycles
// actually applied, so callers can detect an out-of-range request.
type Outputs struct {
	board Board

	maxV, maxIPos, maxINeg float64 // engineering units last programmed

	dutyV, dutyIPos, dutyINeg float64
}

// New creates an Outputs set using board's conversion coefficients.
func New(board Board) *Outputs {
	return &Outputs{board: board}
}

// SetMaxV programs the max_v limit pin. v must be >= 0 (§3 invariant).
func (o *Outputs) SetMaxV(v float64) error {
	if v < 0 {
		return fmt.Errorf("pwmlimit: max_v must be >= 0, got %v", v)
	}
	o.maxV = v
	o.dutyV = o.board.MaxV.duty(v)
	return nil
}

// SetMaxIPos programs the max_i_pos limit pin. Negative current limits
// are stored as magnitudes (§4.4 invariant), so a is expected >= 0.
func (o *Outputs) SetMaxIPos(a float64) error {
	if a < 0 {
		return fmt.Errorf("pwmlimit: max_i_pos must be >= 0, got %v", a)
	}
	o.maxIPos = a
	o.dutyIPos = o.board.MaxIPos.duty(a)
	return nil
}

// SetMaxINeg programs the max_i_neg limit pin, as a magnitude.
func (o *Outputs) SetMaxINeg(a float64) error {
	if a < 0 {
		return fmt.Errorf("pwmlimit: max_i_neg must be >= 0, got %v", a)
	}
	o.maxINeg = a
	o.dutyINeg = o.board.MaxINeg.duty(a)
	return nil
}

// MaxV, MaxIPos, MaxINeg return the engineering-unit limits currently
// programmed.
func (o *Outputs) MaxV() float64    { return o.maxV }
func (o *Outputs) MaxIPos() float64 { return o.maxIPos }
func (o *Outputs) MaxINeg() float64 { return o.maxINeg }

// Duties returns the three duty cycles actually applied to the PWM
// outputs, each in [0, 1].
func (o *Outputs) Duties() (v, iPos, iNeg float64) {
	return o.dutyV, o.dutyIPos, o.dutyINeg
}
