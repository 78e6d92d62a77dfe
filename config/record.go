// Package config holds the in-memory configuration store shared between
// the command dispatcher and the event loop, and the flash-backed
// persistence format described in §4.7.
package config

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nasa-jpl/tecsrv/adc"
	"github.com/nasa-jpl/tecsrv/dac"
	"github.com/nasa-jpl/tecsrv/pid"
	"github.com/nasa-jpl/tecsrv/steinhart"
	"github.com/nasa-jpl/tecsrv/util"
)

// recordVersion is bumped whenever the fixed binary layout changes.
const recordVersion uint16 = 1

// ChannelRecord is the persisted state of one channel: Steinhart-Hart,
// PID, limits, centerpoint, and postfilter rate (§3, §4.7).
type ChannelRecord struct {
	SH steinhart.Params
	PP pid.Params

	MaxV, MaxIPos, MaxINeg float64

	CenterUseVref bool
	CenterFixed   float64

	Postfilter adc.Rate
}

// DeviceRecord is the device-scope persisted state: network config and
// fan curve (§3).
type DeviceRecord struct {
	IPv4    [4]byte
	Prefix  uint8
	HasGW   bool
	Gateway [4]byte

	FanA, FanB, FanC float64
}

// Snapshot is the full configuration persisted to flash: two channel
// records plus the device record.
type Snapshot struct {
	Channels [2]ChannelRecord
	Device   DeviceRecord
}

// encode serialises a Snapshot into the fixed-layout payload described
// in §6: every field is written in a fixed order and width so that two
// equal Snapshots always produce byte-identical payloads (required for
// the save/load round-trip invariant in §8).
func (s Snapshot) encode() []byte {
	buf := new(bytes.Buffer)
	for _, ch := range s.Channels {
		writeF64(buf, ch.SH.T0)
		writeF64(buf, ch.SH.R0)
		writeF64(buf, ch.SH.B)
		writeF64(buf, ch.PP.Kp)
		writeF64(buf, ch.PP.Ki)
		writeF64(buf, ch.PP.Kd)
		writeF64(buf, ch.PP.Target)
		writeF64(buf, ch.PP.Output.Min)
		writeF64(buf, ch.PP.Output.Max)
		writeF64(buf, ch.PP.Integral.Min)
		writeF64(buf, ch.PP.Integral.Max)
		writeF64(buf, ch.MaxV)
		writeF64(buf, ch.MaxIPos)
		writeF64(buf, ch.MaxINeg)
		writeBool(buf, ch.CenterUseVref)
		writeF64(buf, ch.CenterFixed)
		binary.Write(buf, binary.BigEndian, int32(ch.Postfilter))
	}
	buf.Write(s.Device.IPv4[:])
	buf.WriteByte(s.Device.Prefix)
	writeBool(buf, s.Device.HasGW)
	buf.Write(s.Device.Gateway[:])
	writeF64(buf, s.Device.FanA)
	writeF64(buf, s.Device.FanB)
	writeF64(buf, s.Device.FanC)
	return buf.Bytes()
}

// decodeSnapshot is the inverse of encode.
func decodeSnapshot(b []byte) (Snapshot, error) {
	r := bytes.NewReader(b)
	var s Snapshot
	for i := range s.Channels {
		ch := &s.Channels[i]
		var err error
		if ch.SH.T0, err = readF64(r); err != nil {
			return s, err
		}
		if ch.SH.R0, err = readF64(r); err != nil {
			return s, err
		}
		if ch.SH.B, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Kp, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Ki, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Kd, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Target, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Output.Min, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Output.Max, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Integral.Min, err = readF64(r); err != nil {
			return s, err
		}
		if ch.PP.Integral.Max, err = readF64(r); err != nil {
			return s, err
		}
		if ch.MaxV, err = readF64(r); err != nil {
			return s, err
		}
		if ch.MaxIPos, err = readF64(r); err != nil {
			return s, err
		}
		if ch.MaxINeg, err = readF64(r); err != nil {
			return s, err
		}
		if ch.CenterUseVref, err = readBool(r); err != nil {
			return s, err
		}
		if ch.CenterFixed, err = readF64(r); err != nil {
			return s, err
		}
		var rate int32
		if err := binary.Read(r, binary.BigEndian, &rate); err != nil {
			return s, err
		}
		ch.Postfilter = adc.Rate(rate)
	}
	if _, err := r.Read(s.Device.IPv4[:]); err != nil {
		return s, err
	}
	prefix, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.Device.Prefix = prefix
	if s.Device.HasGW, err = readBool(r); err != nil {
		return s, err
	}
	if _, err := r.Read(s.Device.Gateway[:]); err != nil {
		return s, err
	}
	if s.Device.FanA, err = readF64(r); err != nil {
		return s, err
	}
	if s.Device.FanB, err = readF64(r); err != nil {
		return s, err
	}
	if s.Device.FanC, err = readF64(r); err != nil {
		return s, err
	}
	return s, nil
}

func writeF64(buf *bytes.Buffer, v float64) {
	binary.Write(buf, binary.BigEndian, v)
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readF64(r *bytes.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// DefaultChannelRecord returns the factory-default record for a channel:
// disabled postfilter, zero PID gains with output and integral clamps of
// ±1, zero limits.
func DefaultChannelRecord() ChannelRecord {
	return ChannelRecord{
		SH:            steinhart.Params{T0: steinhart.CelsiusToKelvin(25), R0: 10000, B: 3988},
		PP:            pid.Params{Output: util.Limiter{Min: -1, Max: 1}, Integral: util.Limiter{Min: -1, Max: 1}},
		CenterUseVref: true,
		Postfilter:    adc.RateOff,
	}
}

// DefaultDeviceRecord returns the factory-default device record.
func DefaultDeviceRecord() DeviceRecord {
	return DeviceRecord{FanA: 1, FanB: 0, FanC: 0}
}

// DefaultSnapshot returns the factory-default full configuration.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Channels: [2]ChannelRecord{DefaultChannelRecord(), DefaultChannelRecord()},
		Device:   DefaultDeviceRecord(),
	}
}

// CenterOf returns the dac.Center described by a ChannelRecord.
func (c ChannelRecord) CenterOf() dac.Center {
	return dac.Center{UseVref: c.CenterUseVref, Fixed: c.CenterFixed}
}

// FmtIPv4 renders a device-record address field in dotted-quad form for
// the "ipv4" query response (§6).
func FmtIPv4(b [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}
