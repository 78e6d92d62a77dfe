package util_test

import (
	"testing"

	"github.com/nasa-jpl/tecsrv/util"
)

func TestClampHigh(t *testing.T) {
	if got := util.Clamp(20, 0, 10); got != 10 {
		t.Errorf("Clamp(20, 0, 10) = %v, want 10", got)
	}
}

func TestClampLow(t *testing.T) {
	if got := util.Clamp(-1, 0, 10); got != 0 {
		t.Errorf("Clamp(-1, 0, 10) = %v, want 0", got)
	}
}

func TestClampWithinRange(t *testing.T) {
	if got := util.Clamp(5, 0, 10); got != 5 {
		t.Errorf("Clamp(5, 0, 10) = %v, want 5", got)
	}
}

func TestLimiterClamp(t *testing.T) {
	l := util.Limiter{Min: -1, Max: 1}
	if got := l.Clamp(5); got != 1 {
		t.Errorf("Limiter.Clamp(5) = %v, want 1", got)
	}
	if got := l.Clamp(-5); got != -1 {
		t.Errorf("Limiter.Clamp(-5) = %v, want -1", got)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: 0, Max: 1}
	if !l.Check(0.5) {
		t.Errorf("Check(0.5) = false, want true")
	}
	if l.Check(1.5) {
		t.Errorf("Check(1.5) = true, want false")
	}
}
