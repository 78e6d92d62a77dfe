package dac

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// SerialBus drives the AD5680 DAC and its feedback ADC through the same
// bench USB-serial SPI bridge adc.SerialBus uses: "WR <code>\n" and
// "FB?\n" answering "<feedback_v> <monitor_v>\n".
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

func (b *SerialBus) WriteCode(code uint32) error {
	_, err := b.conn.Write([]byte(fmt.Sprintf("WR %d\n", code)))
	return err
}

func (b *SerialBus) ReadFeedback() (dacFeedbackV, tecCurrentMonitorV float64, err error) {
	if _, err = b.conn.Write([]byte("FB?\n")); err != nil {
		return 0, 0, err
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("dac: malformed bridge reply %q", line)
	}
	fb, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, err
	}
	mon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return fb, mon, nil
}
