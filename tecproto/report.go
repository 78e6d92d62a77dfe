package tecproto

import "encoding/json"

// errorResponse is the shape every error takes on the wire (§7).
type errorResponse struct {
	Error Kind `json:"error"`
}

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return encodeError(InvalidCommand)
	}
	return b
}

func encodeError(k Kind) []byte {
	b, _ := json.Marshal(errorResponse{Error: k})
	return b
}

// encodeErrorFrom renders any error as a {"error": "<kind>"} line. An
// error that did not originate as a tecproto.Error is reported as
// InvalidCommand rather than leaking its Go-internal message text onto
// the wire.
func encodeErrorFrom(err error) []byte {
	if kerr, ok := err.(Error); ok {
		return encodeError(kerr.Kind)
	}
	return encodeError(InvalidCommand)
}

// EncodeReport renders a channel.Report as one JSON line for the
// streaming report path (§6).
func EncodeReport(v interface{}) []byte {
	return encode(v)
}
