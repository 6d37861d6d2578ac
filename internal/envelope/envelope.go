// Package envelope encodes and decodes the on-wire message envelope
// stored as the members of a channel's messages ordered set.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope is the self-describing record stored for every message. Field
// order within the encoded JSON is unspecified; decoders must not depend
// on it. The id field guarantees no two messages in a channel ever
// encode to the same byte string, since id is unique per channel.
type Envelope struct {
	ID   int64  `json:"id"`
	TS   int64  `json:"ts"`
	Src  string `json:"src"`
	Data string `json:"data"`
}

// Encode serializes the envelope to its wire form.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return b, nil
}

// Decode parses an envelope's wire form. A decode failure means the
// stored member is corrupt and the caller should surface a BackendError.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	return e, nil
}
