// Package adc models the AD7172-2 sigma-delta ADC sequencer: channel
// configuration, postfilter rate selection, and the data-ready intake
// path described in §4.2.
package adc

import (
	"errors"
	"fmt"
	"time"
)

// ErrSaturated is returned by OnDataReady when the conversion reads
// full-scale in either direction (§4.2 edge case: conversion underrange
// or overrange).
var ErrSaturated = errors.New("adc: conversion saturated")

// ErrNotReady is returned when the data-ready line has not been asserted
// for longer than the sequencer's re-initialisation timeout.
var ErrNotReady = errors.New("adc: data-ready timeout, sequencer re-initialised")

// Rate selects the sinc5+sinc1 postfilter applied after the main sinc
// stage. Off selects the default sinc5 filter with no postfilter.
type Rate int

const (
	RateOff Rate = iota
	Rate16_67
	Rate20
	Rate21_25
	Rate27
)

// String renders the postfilter rate the way it is reported over the
// command interface.
func (r Rate) String() string {
	switch r {
	case RateOff:
		return "off"
	case Rate16_67:
		return "16.67"
	case Rate20:
		return "20"
	case Rate21_25:
		return "21.25"
	case Rate27:
		return "27"
	default:
		return "unknown"
	}
}

// ParseRate maps a numeric rate in Hz to the supported postfilter
// selection within 0.01 Hz of it, or RateOff for 0. Any other value is an
// error.
func ParseRate(hz float64) (Rate, error) {
	switch {
	case hz == 0:
		return RateOff, nil
	case near(hz, 16.67):
		return Rate16_67, nil
	case near(hz, 20):
		return Rate20, nil
	case near(hz, 21.25):
		return Rate21_25, nil
	case near(hz, 27):
		return Rate27, nil
	default:
		return RateOff, fmt.Errorf("adc: unsupported postfilter rate %v", hz)
	}
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.01
}

// ChannelConfig is the per-channel configuration the sequencer programs
// into the ADC at init and on every postfilter-rate change.
type ChannelConfig struct {
	Enabled bool
	Rate    Rate
}

// Bus is the low-level SPI transaction surface the sequencer drives. A
// real board implements it over an SPI peripheral; SimBus below
// implements it in software so the control loop can run and be tested
// without hardware.
type Bus interface {
	// Configure programs a channel's enable state and postfilter rate.
	Configure(channel int, cfg ChannelConfig) error

	// Reset reinitialises the ADC (used after a data-ready stall; New does
	// not call it).
	Reset() error

	// ReadConversion blocks for at most the caller's patience and
	// returns the channel tag embedded in the status byte, the raw
	// 24-bit conversion, and whether the reading is a rail (saturated).
	ReadConversion() (channel int, counts uint32, saturated bool, err error)
}

// Electrical holds the reference voltage, gain, and bias-network constants
// needed to convert raw counts to a thermistor resistance (§4.2).
type Electrical struct {
	VRef  float64 // volts, ADC reference
	Gain  float64 // PGA gain applied ahead of the ADC
	RBias float64 // ohms, bias resistor in the SENS divider

	// FullScale is the ADC's full-scale code (2^23 for bipolar AD7172-2
	// 24-bit conversions referenced to mid-scale).
	FullScale uint32
}

// DefaultElectrical returns the nominal bias network for the reference
// board this firmware targets.
func DefaultElectrical() Electrical {
	return Electrical{
		VRef:      2.5,
		Gain:      1,
		RBias:     10000,
		FullScale: 1 << 23,
	}
}

// Sample is one timestamped, channel-tagged conversion handed to the
// channel state machine.
type Sample struct {
	Channel   int
	Counts    uint32
	Volts     float64
	Ohms      float64
	Saturated bool
	TMs       int64
}

// Sequencer owns the ADC bus and the per-channel configuration, and
// converts raw conversions into resistance readings.
type Sequencer struct {
	bus  Bus
	elec Electrical
	cfg  [2]ChannelConfig

	lastReady    time.Time
	readyTimeout time.Duration
	now          func() time.Time
	boot         time.Time
}

// New creates a Sequencer bound to bus, using elec for the counts->volts
// and volts->resistance conversion, and now as the monotonic clock source
// (time.Now in production, a deterministic stub in tests). The instant of
// construction is treated as t_ms = 0 (time since boot).
func New(bus Bus, elec Electrical, now func() time.Time) *Sequencer {
	t := now()
	return &Sequencer{
		bus:          bus,
		elec:         elec,
		readyTimeout: 200 * time.Millisecond,
		now:          now,
		lastReady:    t,
		boot:         t,
	}
}

// Configure programs one channel's enable flag and postfilter rate.
func (s *Sequencer) Configure(channel int, cfg ChannelConfig) error {
	if channel < 0 || channel > 1 {
		return fmt.Errorf("adc: invalid channel %d", channel)
	}
	if err := s.bus.Configure(channel, cfg); err != nil {
		return err
	}
	s.cfg[channel] = cfg
	return nil
}

// Config returns the last-programmed configuration for a channel.
func (s *Sequencer) Config(channel int) ChannelConfig {
	return s.cfg[channel]
}

// EffectiveRate returns the postfilter rate setting programmed for a
// channel. It does not account for the round-robin sequencer sharing time
// between two enabled channels; DualEnabled reports that case.
func (s *Sequencer) EffectiveRate(channel int) Rate {
	return s.cfg[channel].Rate
}

// DualEnabled reports whether both channels are presently enabled, which
// halves the nominal sampling rate of each. Nothing in the control loop
// calls it; the PID uses measured Δt, not the nominal rate, per §4.5.
func (s *Sequencer) DualEnabled() bool {
	return s.cfg[0].Enabled && s.cfg[1].Enabled
}

// OnDataReady is invoked from the data-ready signal (an interrupt on real
// hardware, or a polled flag in the cooperative loop; see §5). It reads
// one conversion, timestamps it, and converts it to engineering units.
//
// If the ready line has not produced a conversion for longer than the
// sequencer's timeout, the ADC is silently reinitialised and ErrNotReady
// is returned so the caller can skip this tick cleanly.
func (s *Sequencer) OnDataReady() (Sample, error) {
	now := s.now()
	channel, counts, saturated, err := s.bus.ReadConversion()
	if err != nil {
		if now.Sub(s.lastReady) > s.readyTimeout {
			_ = s.bus.Reset()
			s.lastReady = now
			return Sample{}, ErrNotReady
		}
		return Sample{}, err
	}
	s.lastReady = now

	tMs := now.Sub(s.boot).Milliseconds()
	volts := s.countsToVolts(counts)
	ohms := s.voltsToOhms(volts)

	sample := Sample{
		Channel:   channel,
		Counts:    counts,
		Volts:     volts,
		Ohms:      ohms,
		Saturated: saturated,
		TMs:       tMs,
	}
	if saturated {
		return sample, ErrSaturated
	}
	return sample, nil
}

// countsToVolts converts a 24-bit bipolar code to an input voltage using
// the configured reference and gain.
func (s *Sequencer) countsToVolts(counts uint32) float64 {
	fs := float64(s.elec.FullScale)
	signed := float64(counts) - fs
	return (signed / fs) * (s.elec.VRef / s.elec.Gain)
}

// voltsToOhms converts the SENS input voltage to thermistor resistance.
// The SENS input is a divider against a fixed bias resistor sourced from
// VRef: R = Vadc * Rbias / (Vref - Vadc).
func (s *Sequencer) voltsToOhms(v float64) float64 {
	denom := s.elec.VRef - v
	if denom == 0 {
		return 0
	}
	return v * s.elec.RBias / denom
}
