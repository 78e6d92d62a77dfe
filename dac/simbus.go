package dac

// SimBus is an in-memory AD5680 + feedback-ADC stand-in used by default
// and by tests. It reflects back whatever voltage was last written,
// optionally perturbed by Drift to exercise the DacDrift telemetry path.
type SimBus struct {
	VMin, VMax float64

	// Drift is added to the feedback reading to simulate a persistent
	// delta between written and read-back voltage.
	Drift float64

	// Monitor is returned verbatim as the TEC current monitor voltage.
	Monitor float64

	lastCode uint32
}

// NewSimBus returns a SimBus spanning [vMin, vMax].
func NewSimBus(vMin, vMax float64) *SimBus {
	return &SimBus{VMin: vMin, VMax: vMax}
}

func (b *SimBus) WriteCode(code uint32) error {
	b.lastCode = code
	return nil
}

func (b *SimBus) ReadFeedback() (dacFeedbackV, tecCurrentMonitorV float64, err error) {
	frac := float64(b.lastCode) / float64(maxCode)
	v := b.VMin + frac*(b.VMax-b.VMin)
	return v + b.Drift, b.Monitor, nil
}
