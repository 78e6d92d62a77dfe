// Package tecproto implements the line-oriented text command grammar and
// JSON reporting described in §4.8/§6, mutating the shared config.Store
// and channel.Channel state machines on behalf of any number of
// concurrent TCP sessions.
package tecproto

// Kind is one of the error kinds surfaced to users (§7). None are fatal
// to the device.
type Kind string

const (
	InvalidCommand Kind = "InvalidCommand"
	InvalidParam   Kind = "InvalidParam"
	OutOfRange     Kind = "OutOfRange"
	UnknownChannel Kind = "UnknownChannel"
	AdcSaturated   Kind = "AdcSaturated"
	DacDrift       Kind = "DacDrift"
	FlashBusy      Kind = "FlashBusy"
	FlashCorrupt   Kind = "FlashCorrupt"
	NoSavedConfig  Kind = "NoSavedConfig"
	NetworkConfig  Kind = "NetworkConfig"
)

// Error adapts a Kind to the error interface so dispatch methods can
// return it like any other error and have it map directly to a
// {"error": "..."} response line.
type Error struct {
	Kind Kind
}

func (e Error) Error() string {
	return string(e.Kind)
}

// Err constructs a Kind error.
func Err(k Kind) error {
	return Error{Kind: k}
}
