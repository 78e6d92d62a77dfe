// Package channel implements the per-TEC-channel state machine: mode
// transitions between open-loop and closed-loop operation, Steinhart-Hart
// conversion, the PID tick, and the DAC write that closes the loop
// (§4.6).
package channel

import (
	"time"

	"github.com/nasa-jpl/tecsrv/adc"
	"github.com/nasa-jpl/tecsrv/dac"
	"github.com/nasa-jpl/tecsrv/pid"
	"github.com/nasa-jpl/tecsrv/pwmlimit"
	"github.com/nasa-jpl/tecsrv/steinhart"
)

// Mode is the channel's operating state.
type Mode int

const (
	Disabled Mode = iota
	OpenLoop
	Closed
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case OpenLoop:
		return "open_loop"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// reassertPeriod is the minimum cadence at which OpenLoop re-asserts
// i_set to correct for DAC drift (§4.6).
const reassertPeriod = time.Second

// Report is the per-tick telemetry record serialised as one JSON object
// on the command interface's streaming path (§6).
type Report struct {
	Channel     int     `json:"channel"`
	TimeMs      int64   `json:"time"`
	AdcV        float64 `json:"adc"`
	SensOhms    float64 `json:"sens"`
	TempC       float64 `json:"temperature"`
	PidEngaged  bool    `json:"pid_engaged"`
	ISet        float64 `json:"i_set"`
	Vref        float64 `json:"vref"`
	DacValue    float64 `json:"dac_value"`
	DacFeedback float64 `json:"dac_feedback"`
	ITec        float64 `json:"i_tec"`
	TecI        float64 `json:"tec_i"`
	TecUMeas    float64 `json:"tec_u_meas"`
	PidOutput   float64 `json:"pid_output"`
}

// Channel is the state machine for one TEC channel. It owns its DAC
// driver and PWM limit outputs; the event loop is the sole caller of its
// tick methods (§9 ownership).
type Channel struct {
	ID int

	mode Mode

	sh  steinhart.Params
	pp  pid.Params
	ps  pid.State

	dac *dac.Driver
	pwm *pwmlimit.Outputs

	iSetOpenLoop float64
	lastReassert time.Time

	last Report
}

// New creates a Disabled channel bound to its DAC driver and PWM limit
// outputs.
func New(id int, d *dac.Driver, pwm *pwmlimit.Outputs) *Channel {
	return &Channel{ID: id, mode: Disabled, dac: d, pwm: pwm}
}

// Mode returns the channel's current state.
func (c *Channel) Mode() Mode { return c.mode }

// SteinhartParams returns the channel's Steinhart-Hart parameters.
func (c *Channel) SteinhartParams() steinhart.Params { return c.sh }

// SetSteinhartParams updates the Steinhart-Hart parameters used on the
// next conversion.
func (c *Channel) SetSteinhartParams(p steinhart.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.sh = p
	return nil
}

// PIDParams returns the channel's PID tuning parameters.
func (c *Channel) PIDParams() pid.Params { return c.pp }

// SetPIDParams updates the PID tuning parameters. It does not reset
// runtime state (kp/ki/kd/target edits take effect on the next tick;
// only mode transitions reset the integral, per §4.6 and §9(a)).
func (c *Channel) SetPIDParams(p pid.Params) error {
	if p.Output.Min > p.Output.Max {
		return ErrBadLimits
	}
	if p.Integral.Min > p.Integral.Max {
		return ErrBadLimits
	}
	c.pp = p
	return nil
}

// PWM returns the channel's PWM limit outputs.
func (c *Channel) PWM() *pwmlimit.Outputs { return c.pwm }

// Center returns the DAC centerpoint mode.
func (c *Channel) Center() dac.Center { return c.dac.Center() }

// SetCenter updates the DAC centerpoint.
func (c *Channel) SetCenter(center dac.Center) {
	c.dac.SetCenter(center)
}

// SetOpenLoop transitions to OpenLoop(iSet), resetting the PID integral
// so a later return to Closed starts unbiased (§4.6).
func (c *Channel) SetOpenLoop(iSet float64) {
	c.mode = OpenLoop
	c.iSetOpenLoop = iSet
	c.ps.Reset()
	c.lastReassert = time.Time{}
}

// SetClosed transitions to Closed, resetting the PID integral so prior
// OpenLoop operation does not bias the loop (§4.6).
func (c *Channel) SetClosed() {
	c.mode = Closed
	c.ps.Reset()
}

// SetDisabled forces the channel to Disabled, used on boot and on a
// limit-programming error that would violate the MAX1968 safe operating
// area (§4.6).
func (c *Channel) SetDisabled() {
	c.mode = Disabled
}

// ISetOpenLoop returns the open-loop current setpoint.
func (c *Channel) ISetOpenLoop() float64 { return c.iSetOpenLoop }

// LastReport returns the most recent report produced by a tick.
func (c *Channel) LastReport() Report { return c.last }

// HandleSample runs one control tick for a fresh ADC sample: Steinhart-Hart
// conversion, then (if Closed) the PID step, then the DAC write under the
// programmed current limits. dtSeconds is the measured interval since the
// previous sample handled by this channel.
//
// If sample.Saturated, the PID is skipped for this tick (no integral
// update) and the channel holds its previous DAC output, per §4.2/§4.5.
func (c *Channel) HandleSample(sample adc.Sample, dtSeconds float64) (Report, error) {
	rpt := Report{
		Channel: c.ID,
		TimeMs:  sample.TMs,
		AdcV:    sample.Volts,
		SensOhms: sample.Ohms,
		Vref:    dacPkgVref(c),
	}

	if sample.Saturated {
		rpt.PidEngaged = c.mode == Closed
		rpt.ISet = c.iSetOpenLoop
		rpt.DacValue = c.dac.LastWritten()
		rpt.DacFeedback = c.dac.LastFeedback()
		rpt.TecUMeas = c.dac.LastMonitor()
		rpt.PidOutput = c.ps.LastOutput()
		c.last = rpt
		return rpt, ErrAdcSaturated
	}

	tempK, err := steinhart.Temperature(sample.Ohms, c.sh)
	if err != nil {
		// S-H params not yet configured; report raw electricals only.
		c.last = rpt
		return rpt, err
	}
	tempC := steinhart.KelvinToCelsius(tempK)
	rpt.TempC = tempC

	var iSet float64
	switch c.mode {
	case Closed:
		iSet = c.ps.Step(c.pp, tempC, dtSeconds)
		rpt.PidEngaged = true
		rpt.PidOutput = iSet
	case OpenLoop:
		iSet = c.iSetOpenLoop
		rpt.ISet = iSet
	case Disabled:
		c.last = rpt
		return rpt, nil
	}

	maxIPos := c.pwm.MaxIPos()
	maxINeg := c.pwm.MaxINeg()
	effective, err := c.dac.SetCurrent(iSet, maxIPos, maxINeg)
	if err != nil {
		c.last = rpt
		return rpt, err
	}

	rpt.ISet = effective
	rpt.DacValue = c.dac.LastWritten()
	rpt.DacFeedback = c.dac.LastFeedback()
	rpt.TecUMeas = c.dac.LastMonitor()
	rpt.ITec = c.dac.LastMonitor()
	rpt.TecI = effective

	c.last = rpt
	if c.dac.Drifting() {
		return rpt, ErrDacDrift
	}
	return rpt, nil
}

// ReassertIfStale re-asserts the open-loop setpoint on its first call
// after entering OpenLoop and then whenever at least one second has
// elapsed since its own previous re-assertion, correcting for DAC drift
// (§4.6). DAC writes made by HandleSample do not reset that timer. It is
// a no-op outside OpenLoop.
func (c *Channel) ReassertIfStale(now time.Time) (bool, error) {
	if c.mode != OpenLoop {
		return false, nil
	}
	if !c.lastReassert.IsZero() && now.Sub(c.lastReassert) < reassertPeriod {
		return false, nil
	}
	maxIPos := c.pwm.MaxIPos()
	maxINeg := c.pwm.MaxINeg()
	if _, err := c.dac.SetCurrent(c.iSetOpenLoop, maxIPos, maxINeg); err != nil {
		return false, err
	}
	c.lastReassert = now
	return true, nil
}

func dacPkgVref(c *Channel) float64 {
	center := c.dac.Center()
	if center.UseVref {
		return dac.Vref
	}
	return center.Fixed
}
