package config

import (
	"sync"
)

// Store is the in-memory, write-through configuration cache shared
// between the command dispatcher and the event loop (§9). All of this
// firmware runs on one cooperative task, so a single mutex — rather than
// the channel-tick synchronisation points a bare-metal build would use —
// is the idiomatic Go equivalent the design note in §9 calls for.
type Store struct {
	mu    sync.Mutex
	snap  Snapshot
	flash *Flash
}

// New creates a Store seeded with the factory-default configuration. It
// does not touch flash; call Load to populate it from a saved record.
func New(flash *Flash) *Store {
	return &Store{snap: DefaultSnapshot(), flash: flash}
}

// Channel returns a copy of channel ch's persisted-config view.
func (s *Store) Channel(ch int) ChannelRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Channels[ch]
}

// SetChannel replaces channel ch's persisted-config view. It does not
// touch flash (§4.7: write-through cache, flash is untouched until
// Save).
func (s *Store) SetChannel(ch int, rec ChannelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Channels[ch] = rec
}

// MutateChannel applies f to a copy of channel ch's record and stores
// the result, returning f's error without mutating the store if it
// fails. This is how the command dispatcher keeps partial field updates
// atomic at the configuration-record level (§4.8).
func (s *Store) MutateChannel(ch int, f func(*ChannelRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.snap.Channels[ch]
	if err := f(&rec); err != nil {
		return err
	}
	s.snap.Channels[ch] = rec
	return nil
}

// Device returns a copy of the device-scope record.
func (s *Store) Device() DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Device
}

// MutateDevice applies f to a copy of the device record and stores the
// result atomically, as MutateChannel does for channels.
func (s *Store) MutateDevice(f func(*DeviceRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.snap.Device
	if err := f(&rec); err != nil {
		return err
	}
	s.snap.Device = rec
	return nil
}

// Snapshot returns a copy of the entire in-memory configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Save persists channel ch (or, if ch is nil, all channels and the
// device record) to flash. It starts from whatever is presently on
// flash so an unmentioned channel's last-saved state survives a
// single-channel save (§8 scenario 4), then overlays the requested
// channel(s)' live in-memory state before writing. A single-channel save
// also writes the live device record.
func (s *Store) Save(ch *int) error {
	s.mu.Lock()
	live := s.snap
	s.mu.Unlock()

	base, err := s.flash.Load()
	if err != nil {
		if err == ErrNoSavedConfig {
			base = DefaultSnapshot()
		} else {
			return err
		}
	}

	if ch == nil {
		base = live
	} else {
		base.Channels[*ch] = live.Channels[*ch]
		base.Device = live.Device
	}

	return s.flash.Save(base)
}

// Load reads the active flash slot and, on success, replaces the
// in-memory config for channel ch and the device record (or all channels
// and the device record, if ch is nil) with the saved values. On failure
// the in-memory config is left
// untouched and the error (ErrNoSavedConfig) is returned (§4.7, §7).
func (s *Store) Load(ch *int) error {
	snap, err := s.flash.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch == nil {
		s.snap = snap
	} else {
		s.snap.Channels[*ch] = snap.Channels[*ch]
		s.snap.Device = snap.Device
	}
	return nil
}
