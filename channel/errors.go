package channel

import "errors"

// ErrBadLimits is returned when a PID parameter edit would violate
// output_min <= output_max or integral_min <= integral_max (§3).
var ErrBadLimits = errors.New("channel: output_min/integral_min must not exceed output_max/integral_max")

// ErrAdcSaturated is returned by HandleSample when the ADC conversion for
// this tick was a rail; the PID step is skipped and the channel holds
// its previous DAC output (§4.2, §4.5).
var ErrAdcSaturated = errors.New("channel: adc saturated, pid step skipped")

// ErrDacDrift is returned by HandleSample (alongside a valid report) when
// the DAC feedback has differed from the written voltage by more than the
// board's threshold for Board.DriftSamples consecutive writes. It is
// telemetry, not a fault: the tick's report and DAC write are still
// valid (§4.3, §7).
var ErrDacDrift = errors.New("channel: dac feedback drift exceeds threshold")
