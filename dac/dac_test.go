package dac

import "testing"

func TestSetCurrentClampsToLimits(t *testing.T) {
	bus := NewSimBus(0, 3.0)
	board := DefaultBoard()
	d := New(bus, board)

	eff, err := d.SetCurrent(5, 0.5, 0.5) // request 5A, limit is 0.5A
	if err != nil {
		t.Fatal(err)
	}
	if eff != 0.5 {
		t.Fatalf("effective current = %v, want 0.5", eff)
	}
}

func TestSetCurrentNegativeLimit(t *testing.T) {
	bus := NewSimBus(0, 3.0)
	board := DefaultBoard()
	d := New(bus, board)

	eff, err := d.SetCurrent(-5, 1, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if eff != -0.2 {
		t.Fatalf("effective current = %v, want -0.2", eff)
	}
}

func TestSetCenterAffectsNextWrite(t *testing.T) {
	bus := NewSimBus(0, 3.0)
	board := DefaultBoard()
	d := New(bus, board)
	d.SetCenter(Center{Fixed: 1.0})

	if _, err := d.SetCurrent(0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if d.LastWritten() != 1.0 {
		t.Fatalf("written = %v, want 1.0 (fixed centerpoint, 0A)", d.LastWritten())
	}
}

func TestDriftDetectionRequiresConsecutiveSamples(t *testing.T) {
	bus := NewSimBus(0, 3.0)
	bus.Drift = 1.0 // way over threshold
	board := DefaultBoard()
	board.DriftSamples = 3
	d := New(bus, board)

	for i := 0; i < 2; i++ {
		if _, err := d.SetCurrent(0, 1, 1); err != nil {
			t.Fatal(err)
		}
		if d.Drifting() {
			t.Fatalf("drift reported too early at sample %d", i)
		}
	}
	if _, err := d.SetCurrent(0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if !d.Drifting() {
		t.Fatalf("expected drift to be reported after %d consecutive samples", board.DriftSamples)
	}
}
