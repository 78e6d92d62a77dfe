package pid

import (
	"testing"

	"github.com/nasa-jpl/tecsrv/util"
)

func TestStepRespectsOutputClamp(t *testing.T) {
	p := Params{
		Kp: 1.5, Ki: 0.02, Kd: 5,
		Target:   25,
		Output:   util.Limiter{Min: -1, Max: 1},
		Integral: util.Limiter{Min: -10, Max: 10},
	}
	var s State
	// measurement above target should push output negative (cooling)
	u := s.Step(p, 27, 1)
	if u >= 0 {
		t.Fatalf("expected negative (cooling) output, got %v", u)
	}
	if u < p.Output.Min || u > p.Output.Max {
		t.Fatalf("output %v outside clamp [%v, %v]", u, p.Output.Min, p.Output.Max)
	}
}

func TestIntegralClampHoldsUnderConstantError(t *testing.T) {
	p := Params{
		Ki:       1,
		Target:   25,
		Output:   util.Limiter{Min: -100, Max: 100},
		Integral: util.Limiter{Min: -0.1, Max: 0.1},
	}
	var s State
	for i := 0; i < 10; i++ {
		s.Step(p, 24, 1) // constant 1 degree error for 10 seconds
	}
	if s.I != 0.1 {
		t.Fatalf("I = %v, want clamped to 0.1", s.I)
	}
}

func TestResetZeroesIntegral(t *testing.T) {
	p := Params{
		Ki:       1,
		Target:   25,
		Output:   util.Limiter{Min: -100, Max: 100},
		Integral: util.Limiter{Min: -0.1, Max: 0.1},
	}
	var s State
	for i := 0; i < 10; i++ {
		s.Step(p, 24, 1)
	}
	s.Reset()
	if s.I != 0 {
		t.Fatalf("I after Reset = %v, want 0", s.I)
	}
	u := s.Step(p, 25, 1)
	if u != 0 {
		t.Fatalf("first step after reset with zero error = %v, want 0", u)
	}
}

func TestIntegralNeverExceedsBoundsAcrossSignReversal(t *testing.T) {
	p := Params{
		Ki:       1,
		Target:   25,
		Output:   util.Limiter{Min: -100, Max: 100},
		Integral: util.Limiter{Min: -0.1, Max: 0.1},
	}
	var s State
	for i := 0; i < 10; i++ {
		s.Step(p, 24, 1)
	}
	for i := 0; i < 10; i++ {
		s.Step(p, 26, 1)
		if s.I < p.Integral.Min || s.I > p.Integral.Max {
			t.Fatalf("I = %v escaped [%v, %v]", s.I, p.Integral.Min, p.Integral.Max)
		}
	}
}
