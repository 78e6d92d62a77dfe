package pwmlimit

import "testing"

func TestDutyBoundedToUnitRange(t *testing.T) {
	o := New(DefaultBoard())
	if err := o.SetMaxIPos(100); err != nil { // way over board's linear range
		t.Fatal(err)
	}
	_, iPos, _ := o.Duties()
	if iPos != 1 {
		t.Fatalf("duty = %v, want clamped to 1", iPos)
	}
}

func TestNegativeLimitsRejected(t *testing.T) {
	o := New(DefaultBoard())
	if err := o.SetMaxINeg(-1); err == nil {
		t.Fatal("expected error for negative max_i_neg")
	}
}

func TestMagnitudeStorage(t *testing.T) {
	o := New(DefaultBoard())
	if err := o.SetMaxINeg(1.5); err != nil {
		t.Fatal(err)
	}
	if o.MaxINeg() != 1.5 {
		t.Fatalf("MaxINeg() = %v, want 1.5", o.MaxINeg())
	}
}
