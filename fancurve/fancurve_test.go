package fancurve

import "testing"

func TestDefaultCurveIsIdentityNormalized(t *testing.T) {
	c := Default()
	if got := c.Evaluate(MaxTECCurrent); got != 1 {
		t.Errorf("Evaluate(max) = %v, want 1", got)
	}
	if got := c.Evaluate(0); got != 0 {
		t.Errorf("Evaluate(0) = %v, want 0", got)
	}
}

func TestManualOverridesCurve(t *testing.T) {
	c := NewController()
	if err := c.SetManual(50); err != nil {
		t.Fatal(err)
	}
	if got := c.Power(0); got != 0.5 {
		t.Errorf("Power() = %v, want 0.5", got)
	}
	c.SetAuto()
	if got := c.Power(0); got != 0 {
		t.Errorf("Power() after SetAuto = %v, want 0", got)
	}
}

func TestManualOutOfRange(t *testing.T) {
	c := NewController()
	if err := c.SetManual(0); err != ErrOutOfRange {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
	if err := c.SetManual(101); err != ErrOutOfRange {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
}

func TestAbsMax(t *testing.T) {
	if got := AbsMax(-3, 2); got != 3 {
		t.Errorf("AbsMax(-3,2) = %v, want 3", got)
	}
}
