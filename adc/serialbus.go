package adc

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// SerialBus drives the AD7172-2 through a USB-serial SPI bridge (an FTDI
// bitbang adapter on the bring-up bench, before the SPI bus is wired
// directly to the SoC). It speaks a small line protocol: "CFG <ch> <en>
// <rate>\n", "RST\n", and "RD?\n" answering "<ch> <counts> <sat>\n" — the
// same request/response shape lakeshore.TempController uses over its
// serial link.
type SerialBus struct {
	conn   *serial.Port
	reader *bufio.Reader
}

func serialConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		ReadTimeout: 250 * time.Millisecond,
	}
}

// NewSerialBus opens a serial connection to the SPI bridge at addr.
func NewSerialBus(addr string) (*SerialBus, error) {
	conn, err := serial.OpenPort(serialConf(addr))
	if err != nil {
		return nil, err
	}
	return &SerialBus{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (b *SerialBus) send(line string) error {
	_, err := b.conn.Write([]byte(line + "\n"))
	return err
}

func (b *SerialBus) recv() (string, error) {
	line, err := b.reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

func (b *SerialBus) Configure(channel int, cfg ChannelConfig) error {
	rate := 0.0
	switch cfg.Rate {
	case Rate16_67:
		rate = 16.67
	case Rate20:
		rate = 20
	case Rate21_25:
		rate = 21.25
	case Rate27:
		rate = 27
	}
	en := 0
	if cfg.Enabled {
		en = 1
	}
	return b.send(fmt.Sprintf("CFG %d %d %.2f", channel, en, rate))
}

func (b *SerialBus) Reset() error {
	return b.send("RST")
}

func (b *SerialBus) ReadConversion() (channel int, counts uint32, saturated bool, err error) {
	if err = b.send("RD?"); err != nil {
		return 0, 0, false, err
	}
	line, err := b.recv()
	if err != nil {
		return 0, 0, false, err
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, 0, false, fmt.Errorf("adc: malformed bridge reply %q", line)
	}
	ch, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, false, err
	}
	c, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, 0, false, err
	}
	sat := fields[2] == "1"
	return ch, uint32(c), sat, nil
}
