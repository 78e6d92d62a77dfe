package config

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// Sentinel error kinds reported to users per §7.
var (
	ErrFlashBusy     = errors.New("config: flash write already in progress")
	ErrFlashCorrupt  = errors.New("config: flash record failed CRC check")
	ErrNoSavedConfig = errors.New("config: no valid saved configuration in either flash slot")
)

// RegionSize is the total size of the on-flash config region (§6): two
// equal slots plus the active-slot descriptor. OpenFileBackend grows a
// backing file to RegionSize when it is smaller.
const RegionSize = 16 * 1024

const (
	magic = 0x54454331 // "TEC1"

	// regionSize matches §6: a 16KiB config region split into two equal
	// slots plus a small active-slot descriptor.
	regionSize = RegionSize
	slotSize   = (regionSize - pointerRegionSize) / 2
	slot0Off   = 0
	slot1Off   = slotSize

	pointerRegionSize = 8
	pointerOff        = 2 * slotSize

	headerSize = 4 + 2 + 2 // magic + version + length
)

var crcTable = crc.NewTable(crc.CRC32)

// crc32Of follows the same Init/Update/finalize sequence golaborate's
// NKT telegram framing uses for its CRC16 checksum, here finalized at
// 32 bits for the flash record format.
func crc32Of(b []byte) uint32 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC32(c)
}

// Backend is the storage surface flash persistence is written against.
// *os.File satisfies it; MemBackend (used by default and by tests)
// simulates a flash region in memory.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// MemBackend is an in-memory Backend, standing in for the on-chip flash
// part when no physical flash controller is wired up.
type MemBackend struct {
	data [regionSize]byte
}

// NewMemBackend returns a zeroed MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (m *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.data[off:], p)
	return n, nil
}

// OpenFileBackend opens (creating if necessary) a regular file at path
// and grows it to RegionSize if it is smaller, standing in for the
// on-chip flash config region on a Linux deployment of this firmware.
// The returned *os.File satisfies Backend directly via ReadAt/WriteAt.
func OpenFileBackend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "config: open flash file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, pkgerrors.Wrap(err, "config: stat flash file")
	}
	if info.Size() < RegionSize {
		if err := f.Truncate(RegionSize); err != nil {
			f.Close()
			return nil, pkgerrors.Wrap(err, "config: grow flash file")
		}
	}
	return f, nil
}

// Flash implements the §4.7 two-slot persistence scheme: writes go to
// the currently-inactive slot, are flushed, and only then does a third,
// small region's active-slot pointer flip, so a power-cut mid-write
// never makes Load see a torn record (§5, §8).
type Flash struct {
	backend Backend
	busy    bool
}

// NewFlash wraps backend with the two-slot scheme.
func NewFlash(backend Backend) *Flash {
	return &Flash{backend: backend}
}

type pointerRecord struct {
	Generation uint32
	SlotIndex  uint8
}

func (f *Flash) readPointer() (pointerRecord, bool) {
	buf := make([]byte, pointerRegionSize)
	if _, err := f.backend.ReadAt(buf, pointerOff); err != nil {
		return pointerRecord{}, false
	}
	gen := binary.BigEndian.Uint32(buf[0:4])
	slot := buf[4]
	crcGot := uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	want := crc32Of(buf[0:5]) & 0x00FFFFFF
	if crcGot != want {
		return pointerRecord{}, false
	}
	if slot > 1 {
		return pointerRecord{}, false
	}
	return pointerRecord{Generation: gen, SlotIndex: slot}, true
}

func (f *Flash) writePointer(p pointerRecord) error {
	buf := make([]byte, pointerRegionSize)
	binary.BigEndian.PutUint32(buf[0:4], p.Generation)
	buf[4] = p.SlotIndex
	c := crc32Of(buf[0:5]) & 0x00FFFFFF
	buf[5] = byte(c >> 16)
	buf[6] = byte(c >> 8)
	buf[7] = byte(c)
	_, err := f.backend.WriteAt(buf, pointerOff)
	return err
}

func slotOffset(idx uint8) int64 {
	if idx == 0 {
		return slot0Off
	}
	return slot1Off
}

func (f *Flash) readSlot(idx uint8) (Snapshot, error) {
	buf := make([]byte, slotSize)
	if _, err := f.backend.ReadAt(buf, slotOffset(idx)); err != nil {
		return Snapshot{}, pkgerrors.Wrap(err, "config: read flash slot")
	}
	if binary.BigEndian.Uint32(buf[0:4]) != magic {
		return Snapshot{}, ErrFlashCorrupt
	}
	if binary.BigEndian.Uint16(buf[4:6]) != recordVersion {
		return Snapshot{}, ErrFlashCorrupt
	}
	length := binary.BigEndian.Uint16(buf[6:8])
	if int(length)+headerSize+4 > slotSize {
		return Snapshot{}, ErrFlashCorrupt
	}
	payload := buf[headerSize : headerSize+int(length)]
	wantCRC := binary.BigEndian.Uint32(buf[headerSize+int(length) : headerSize+int(length)+4])
	if crc32Of(payload) != wantCRC {
		return Snapshot{}, ErrFlashCorrupt
	}
	snap, err := decodeSnapshot(payload)
	if err != nil {
		return Snapshot{}, ErrFlashCorrupt
	}
	return snap, nil
}

// Save serialises snap, CRC-protects it, writes it to the slot that is
// not presently active, flushes, then atomically flips the active-slot
// pointer (§4.7). It fails with ErrFlashBusy if another write is already
// in progress (concurrent saves from different sessions serialise in
// arrival order per §5; here that means the second caller is rejected
// rather than queued, matching a single-buffered flash controller).
func (f *Flash) Save(snap Snapshot) error {
	if f.busy {
		return ErrFlashBusy
	}
	f.busy = true
	defer func() { f.busy = false }()

	ptr, ok := f.readPointer()
	targetSlot := uint8(0)
	nextGen := uint32(1)
	if ok {
		targetSlot = 1 - ptr.SlotIndex
		nextGen = ptr.Generation + 1
	}

	payload := snap.encode()
	buf := new(bytes.Buffer)
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint16(header[4:6], recordVersion)
	binary.BigEndian.PutUint16(header[6:8], uint16(len(payload)))
	buf.Write(header)
	buf.Write(payload)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc32Of(payload))
	buf.Write(crcBytes)

	if buf.Len() > slotSize {
		return pkgerrors.New("config: encoded record exceeds flash slot size")
	}

	if _, err := f.backend.WriteAt(buf.Bytes(), slotOffset(targetSlot)); err != nil {
		return pkgerrors.Wrap(err, "config: write flash slot")
	}

	// verify what was written before flipping the pointer, so a write
	// that silently corrupted is caught as FlashCorrupt rather than
	// becoming the new active record.
	if _, err := f.readSlot(targetSlot); err != nil {
		return ErrFlashCorrupt
	}

	return f.writePointer(pointerRecord{Generation: nextGen, SlotIndex: targetSlot})
}

// Load reads the active slot. On a CRC failure it falls back to the
// other slot; if both fail, ErrNoSavedConfig is returned and the caller
// must leave its runtime configuration untouched (§4.7, §7).
func (f *Flash) Load() (Snapshot, error) {
	ptr, ok := f.readPointer()
	if !ok {
		if snap, err := f.readSlot(0); err == nil {
			return snap, nil
		}
		if snap, err := f.readSlot(1); err == nil {
			return snap, nil
		}
		return Snapshot{}, ErrNoSavedConfig
	}

	if snap, err := f.readSlot(ptr.SlotIndex); err == nil {
		return snap, nil
	}
	other := 1 - ptr.SlotIndex
	if snap, err := f.readSlot(other); err == nil {
		return snap, nil
	}
	return Snapshot{}, ErrNoSavedConfig
}
