package config

import "testing"

func sampleSnapshot() Snapshot {
	s := DefaultSnapshot()
	s.Channels[1].SH.T0 = 301.0
	s.Channels[1].SH.R0 = 12345
	s.Channels[1].SH.B = 3950
	s.Channels[1].PP.Kp = 2.5
	s.Channels[1].MaxIPos = 0.75
	s.Device.IPv4 = [4]byte{192, 168, 1, 50}
	s.Device.Prefix = 24
	s.Device.FanA = 0.5
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := NewFlash(NewMemBackend())
	want := sampleSnapshot()
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestSecondSaveFlipsSlotAndPreservesPrevious(t *testing.T) {
	f := NewFlash(NewMemBackend())
	first := sampleSnapshot()
	if err := f.Save(first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.Channels[0].PP.Kp = 99
	if err := f.Save(second); err != nil {
		t.Fatal(err)
	}
	got, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Fatalf("Load after second save = %+v, want %+v", got, second)
	}
	prev, err := f.readSlot(0)
	if err != nil {
		t.Fatalf("previous slot after second save: %v", err)
	}
	if prev != first {
		t.Fatalf("previous slot = %+v, want %+v", prev, first)
	}
}

// torn backend simulates a power-cut: writes to the payload slots
// succeed, but the active-slot pointer write is dropped.
type tornBackend struct {
	*MemBackend
	dropPointerWrite bool
}

func (t *tornBackend) WriteAt(p []byte, off int64) (int, error) {
	if t.dropPointerWrite && off == pointerOff {
		return len(p), nil // report success but do not apply the write
	}
	return t.MemBackend.WriteAt(p, off)
}

func TestTornSaveLeavesPreviousRecordLoadable(t *testing.T) {
	backend := &tornBackend{MemBackend: NewMemBackend()}
	f := NewFlash(backend)

	good := sampleSnapshot()
	if err := f.Save(good); err != nil {
		t.Fatal(err)
	}

	backend.dropPointerWrite = true
	corrupted := good
	corrupted.Channels[0].PP.Target = 123456
	if err := f.Save(corrupted); err != nil {
		t.Fatal(err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load after torn save: %v", err)
	}
	if got != good {
		t.Fatalf("Load after torn save = %+v, want previous good record %+v", got, good)
	}
}

func TestLoadWithNoSavedConfig(t *testing.T) {
	f := NewFlash(NewMemBackend())
	_, err := f.Load()
	if err != ErrNoSavedConfig {
		t.Fatalf("err = %v, want ErrNoSavedConfig", err)
	}
}

func TestLoadFallsBackOnCorruptActiveSlot(t *testing.T) {
	backend := NewMemBackend()
	f := NewFlash(backend)
	first := sampleSnapshot()
	if err := f.Save(first); err != nil { // lands in slot 0
		t.Fatal(err)
	}
	second := first
	second.Channels[0].PP.Kp = 42
	if err := f.Save(second); err != nil { // lands in slot 1, now active
		t.Fatal(err)
	}

	// corrupt the active slot's (slot 1) payload in place
	buf := make([]byte, 4)
	backend.ReadAt(buf, slot1Off+int64(headerSize))
	buf[0] ^= 0xFF
	backend.WriteAt(buf, slot1Off+int64(headerSize))

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != first {
		t.Fatalf("fallback load = %+v, want %+v", got, first)
	}
}
