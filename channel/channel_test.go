package channel

import (
	"testing"
	"time"

	"github.com/nasa-jpl/tecsrv/adc"
	"github.com/nasa-jpl/tecsrv/dac"
	"github.com/nasa-jpl/tecsrv/pid"
	"github.com/nasa-jpl/tecsrv/pwmlimit"
	"github.com/nasa-jpl/tecsrv/steinhart"
	"github.com/nasa-jpl/tecsrv/util"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	d := dac.New(dac.NewSimBus(0, 3.0), dac.DefaultBoard())
	pwm := pwmlimit.New(pwmlimit.DefaultBoard())
	if err := pwm.SetMaxIPos(1); err != nil {
		t.Fatal(err)
	}
	if err := pwm.SetMaxINeg(1); err != nil {
		t.Fatal(err)
	}
	if err := pwm.SetMaxV(4); err != nil {
		t.Fatal(err)
	}
	c := New(0, d, pwm)
	if err := c.SetSteinhartParams(steinhart.Params{
		T0: steinhart.CelsiusToKelvin(25), R0: 10000, B: 3988,
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPIDParams(pid.Params{
		Kp: 1.5, Ki: 0.02, Kd: 5,
		Target:   25,
		Output:   util.Limiter{Min: -1, Max: 1},
		Integral: util.Limiter{Min: -10, Max: 10},
	}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBaselineClosedLoopStep(t *testing.T) {
	c := newTestChannel(t)
	c.SetClosed()

	r, err := steinhart.Resistance(steinhart.CelsiusToKelvin(27), c.SteinhartParams())
	if err != nil {
		t.Fatal(err)
	}
	sample := adc.Sample{Channel: 0, Ohms: r, TMs: 1000}

	rpt, err := c.HandleSample(sample, 1.0)
	if err != nil {
		t.Fatalf("HandleSample: %v", err)
	}
	if !rpt.PidEngaged {
		t.Fatal("expected pid_engaged=true")
	}
	if rpt.PidOutput >= 0 {
		t.Fatalf("expected negative (cooling) pid_output, got %v", rpt.PidOutput)
	}
	if rpt.PidOutput < -1 || rpt.PidOutput > 1 {
		t.Fatalf("pid_output %v outside [-1,1]", rpt.PidOutput)
	}
	if d := rpt.TempC - 27; d > 0.01 || d < -0.01 {
		t.Fatalf("temperature = %v, want ~27", rpt.TempC)
	}
}

func TestModeSwitchResetsIntegral(t *testing.T) {
	c := newTestChannel(t)
	c.pp.Ki = 1
	c.pp.Integral = util.Limiter{Min: -0.1, Max: 0.1}
	c.pp.Output = util.Limiter{Min: -100, Max: 100}
	c.SetClosed()

	r, _ := steinhart.Resistance(steinhart.CelsiusToKelvin(24), c.SteinhartParams())
	for i := 0; i < 10; i++ {
		if _, err := c.HandleSample(adc.Sample{Ohms: r, TMs: int64(i) * 1000}, 1.0); err != nil {
			t.Fatal(err)
		}
	}
	if c.ps.I != 0.1 {
		t.Fatalf("I = %v, want 0.1 after saturation", c.ps.I)
	}

	c.SetOpenLoop(0)
	c.SetClosed()
	if c.ps.I != 0 {
		t.Fatalf("I after mode switch = %v, want 0", c.ps.I)
	}
}

func TestLimitViolationClampsDACWrite(t *testing.T) {
	c := newTestChannel(t)
	if err := c.PWM().SetMaxIPos(0.5); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPIDParams(pid.Params{
		Kp: 100, Target: 25,
		Output:   util.Limiter{Min: -2, Max: 2},
		Integral: util.Limiter{Min: -10, Max: 10},
	}); err != nil {
		t.Fatal(err)
	}
	c.SetClosed()

	r, _ := steinhart.Resistance(steinhart.CelsiusToKelvin(0), c.SteinhartParams())
	rpt, err := c.HandleSample(adc.Sample{Ohms: r, TMs: 1000}, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if rpt.ISet > 0.5 || rpt.ISet < -0.5 {
		t.Fatalf("effective current %v exceeds 0.5A PWM limit despite output_max=2", rpt.ISet)
	}
}

func TestDisabledHoldsOutput(t *testing.T) {
	c := newTestChannel(t)
	r, _ := steinhart.Resistance(steinhart.CelsiusToKelvin(25), c.SteinhartParams())
	_, err := c.HandleSample(adc.Sample{Ohms: r, TMs: 1}, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mode() != Disabled {
		t.Fatalf("mode = %v, want Disabled", c.Mode())
	}
	if c.dac.LastWritten() != 0 {
		t.Fatalf("dac written = %v while Disabled, want no write", c.dac.LastWritten())
	}
}

func TestReassertIfStaleOnlyInOpenLoop(t *testing.T) {
	c := newTestChannel(t)
	c.SetClosed()
	fired, err := c.ReassertIfStale(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Fatal("ReassertIfStale should be a no-op outside OpenLoop")
	}

	c.SetOpenLoop(0.1)
	fired, err = c.ReassertIfStale(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected first ReassertIfStale call in OpenLoop to fire")
	}
}
