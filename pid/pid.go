// Package pid implements the discrete PID loop used to close the
// temperature control loop on each TEC channel.
//
// The algorithm follows §4.5 of the control spec: derivative on
// measurement (not on error, to avoid setpoint-change kicks) and
// conditional-integration anti-windup bounded by a hard integral clamp
// that survives parameter edits.
package pid

import (
	"github.com/nasa-jpl/tecsrv/util"
)

// Params holds the tunable constants of one channel's loop.
type Params struct {
	Kp, Ki, Kd float64
	Target     float64 // degrees C

	Output util.Limiter // output_min/output_max, amps

	Integral util.Limiter // integral_min/integral_max
}

// State holds the per-channel runtime state that survives between Step
// calls. The zero value is a freshly-reset controller (§4.6: integral is
// reset to zero on every OpenLoop<->Closed transition).
type State struct {
	I      float64
	yPrev  float64
	uPrev  float64
	primed bool
}

// Reset zeroes the integral accumulator and derivative history, as required
// whenever a channel transitions into or out of Closed mode.
func (s *State) Reset() {
	*s = State{}
}

// LastOutput returns the output emitted by the most recent Step.
func (s *State) LastOutput() float64 {
	return s.uPrev
}

// Step advances the controller by one measurement y (degrees C) taken dt
// seconds after the previous measurement, and returns the clamped output.
//
// dt must be the measured interval between samples, not a nominal
// constant, so that postfilter rate changes do not silently change the
// effective gain of the integral and derivative terms. The first call
// after a Reset has no derivative history, so D is taken as zero.
func (s *State) Step(p Params, y, dt float64) float64 {
	if dt <= 0 {
		dt = 1e-6
	}

	e := p.Target - y

	s.I = p.Integral.Clamp(s.I + p.Ki*e*dt)

	var d float64
	if s.primed {
		d = -p.Kd * (y - s.yPrev) / dt
	}

	uRaw := p.Kp*e + s.I + d
	u := p.Output.Clamp(uRaw)

	if u != uRaw {
		// back off the integration that pushed the output past the clamp
		// (conditional integration / anti-windup)
		s.I = p.Integral.Clamp(s.I - p.Ki*e*dt)
	}

	s.yPrev = y
	s.uPrev = u
	s.primed = true

	return u
}
