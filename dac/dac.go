// Package dac drives the AD5680 18-bit DAC that programs the MAX1968
// H-bridge TEC driver's current set point, and reads the DAC feedback
// channel used to detect drift (§4.3).
package dac

import (
	"fmt"

	"github.com/nasa-jpl/tecsrv/util"
)

// Resolution is the AD5680's native bit depth.
const Resolution = 18

const maxCode = (1 << Resolution) - 1

// Center selects the MAX1968 centerpoint: the DAC voltage corresponding
// to 0A of TEC current.
type Center struct {
	// UseVref selects the hardware 1.5V reference. When false, Fixed
	// holds the user-programmed centerpoint voltage.
	UseVref bool
	Fixed   float64
}

// Vref is the nominal hardware reference centerpoint.
const Vref = 1.5

// Voltage returns the centerpoint voltage in effect.
func (c Center) Voltage() float64 {
	if c.UseVref {
		return Vref
	}
	return c.Fixed
}

// Bus is the low-level SPI transaction surface for the AD5680 plus the
// low-bandwidth feedback ADC wired to its output. A board implements it
// over real SPI; SimBus below implements it in software.
type Bus interface {
	// WriteCode shifts an 18-bit code into the AD5680 and latches it.
	WriteCode(code uint32) error

	// ReadFeedback returns the low-bandwidth ADC's reading of the DAC
	// output voltage, and the TEC current monitor voltage.
	ReadFeedback() (dacFeedbackV, tecCurrentMonitorV float64, err error)
}

// Board holds the board-specific constants needed to convert between
// amps of TEC current and DAC output volts.
type Board struct {
	// KI is volts per amp: V_dac = V_center + i_set*KI.
	KI float64

	// VMin/VMax bound the MAX1968's linear input range.
	VMin, VMax float64

	// DriftThreshold is the maximum tolerable |V_written - V_feedback|
	// before DacDrift is reported, and DriftSamples is how many
	// consecutive over-threshold samples are required.
	DriftThreshold float64
	DriftSamples   int
}

// DefaultBoard returns the nominal constants for the reference board.
func DefaultBoard() Board {
	return Board{
		KI:             0.2,
		VMin:           0,
		VMax:           3.0,
		DriftThreshold: 0.05,
		DriftSamples:   5,
	}
}

// Driver programs one channel's DAC and tracks feedback drift.
type Driver struct {
	bus    Bus
	board  Board
	center Center

	lastWrittenV  float64
	lastFeedbackV float64
	lastMonitorV  float64

	overThreshRun int
	drifting      bool
}

// New creates a Driver bound to bus using board's conversion constants.
// The centerpoint defaults to the hardware reference.
func New(bus Bus, board Board) *Driver {
	return &Driver{bus: bus, board: board, center: Center{UseVref: true}}
}

// SetCenter updates the centerpoint. The next SetCurrent call uses the
// new reference (§4.3).
func (d *Driver) SetCenter(c Center) {
	d.center = c
}

// Center returns the active centerpoint.
func (d *Driver) Center() Center {
	return d.center
}

// SetCurrent clamps iSet to [-maxINeg, +maxIPos], converts it to a DAC
// voltage about the active centerpoint, clamps to the MAX1968's linear
// range, writes the DAC, reads back feedback, and returns the effective
// current actually commanded (reflecting any clamping).
func (d *Driver) SetCurrent(iSet, maxIPos, maxINeg float64) (effective float64, err error) {
	iSet = util.Clamp(iSet, -maxINeg, maxIPos)

	v := d.center.Voltage() + iSet*d.board.KI
	vClamped := util.Clamp(v, d.board.VMin, d.board.VMax)
	if vClamped != v {
		// recover the effective current implied by the voltage clamp
		iSet = (vClamped - d.center.Voltage()) / d.board.KI
	}

	code := voltageToCode(vClamped, d.board.VMin, d.board.VMax)
	if err := d.bus.WriteCode(code); err != nil {
		return 0, fmt.Errorf("dac: write: %w", err)
	}
	d.lastWrittenV = vClamped

	fb, mon, err := d.bus.ReadFeedback()
	if err != nil {
		return iSet, fmt.Errorf("dac: feedback read: %w", err)
	}
	d.lastFeedbackV = fb
	d.lastMonitorV = mon

	delta := d.lastWrittenV - fb
	if delta < 0 {
		delta = -delta
	}
	if delta > d.board.DriftThreshold {
		d.overThreshRun++
	} else {
		d.overThreshRun = 0
	}
	d.drifting = d.overThreshRun >= d.board.DriftSamples

	return iSet, nil
}

// Drifting reports whether a persistent feedback delta has been observed
// for at least Board.DriftSamples consecutive writes (§4.3: reported as
// DacDrift telemetry, not a fatal error).
func (d *Driver) Drifting() bool {
	return d.drifting
}

// LastWritten returns the last DAC voltage written.
func (d *Driver) LastWritten() float64 { return d.lastWrittenV }

// LastFeedback returns the last DAC feedback voltage read.
func (d *Driver) LastFeedback() float64 { return d.lastFeedbackV }

// LastMonitor returns the last TEC current monitor voltage read.
func (d *Driver) LastMonitor() float64 { return d.lastMonitorV }

func voltageToCode(v, vMin, vMax float64) uint32 {
	if vMax <= vMin {
		return 0
	}
	frac := (v - vMin) / (vMax - vMin)
	frac = util.Clamp(frac, 0, 1)
	return uint32(frac * float64(maxCode))
}
