package adc

import "fmt"

// SimBus is an in-memory stand-in for the AD7172-2 used by default (no
// bench hardware attached) and by tests. A conversion is queued with
// Queue and consumed in round-robin channel order by ReadConversion, the
// way the real part cycles enabled channels.
type SimBus struct {
	cfg      [2]ChannelConfig
	queued   [2][]uint32
	nextChan int
	resets   int
}

// NewSimBus returns a SimBus with both channels initially disabled.
func NewSimBus() *SimBus {
	return &SimBus{}
}

// Queue appends a raw conversion code for channel to be returned on a
// future ReadConversion call.
func (b *SimBus) Queue(channel int, counts uint32) {
	b.queued[channel] = append(b.queued[channel], counts)
}

// Resets reports how many times Reset has been called, for test
// assertions around the >200ms re-initialisation edge case.
func (b *SimBus) Resets() int {
	return b.resets
}

func (b *SimBus) Configure(channel int, cfg ChannelConfig) error {
	if channel < 0 || channel > 1 {
		return fmt.Errorf("adc: invalid channel %d", channel)
	}
	b.cfg[channel] = cfg
	return nil
}

func (b *SimBus) Reset() error {
	b.resets++
	return nil
}

func (b *SimBus) ReadConversion() (channel int, counts uint32, saturated bool, err error) {
	for i := 0; i < 2; i++ {
		ch := (b.nextChan + i) % 2
		if !b.cfg[ch].Enabled {
			continue
		}
		if len(b.queued[ch]) == 0 {
			continue
		}
		counts = b.queued[ch][0]
		b.queued[ch] = b.queued[ch][1:]
		b.nextChan = (ch + 1) % 2
		saturated = counts == 0 || counts == 0xFFFFFF
		return ch, counts, saturated, nil
	}
	return 0, 0, false, fmt.Errorf("adc: no conversion ready")
}
