package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage marks gossip input missing a load-bearing field.
// Malformed messages are dropped and counted, never propagated.
var ErrMalformedMessage = errors.New("malformed gossip message")

// Message is one versioned key/value update. Only the field set and its
// semantics are load-bearing; the wire framing belongs to the transport.
type Message struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
	Origin  string `json:"origin"`
	TTL     int    `json:"ttl"`
}

// Validate checks the load-bearing fields. Versions start at 1, so a zero
// version can only come from a sender that never assigned one.
func (m Message) Validate() error {
	if m.Key == "" {
		return fmt.Errorf("empty key: %w", ErrMalformedMessage)
	}
	if m.Origin == "" {
		return fmt.Errorf("empty origin: %w", ErrMalformedMessage)
	}
	if m.Version == 0 {
		return fmt.Errorf("zero version: %w", ErrMalformedMessage)
	}
	return nil
}

// Envelope addresses a message to one peer for one round. Addressing is
// kept out of Message so the wire shape stays exactly the replicated
// fields.
type Envelope struct {
	To      string  `json:"to"`
	Message Message `json:"message"`
}

// EncodeMessage serializes a message for the transport.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses and validates a message off the wire.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode: %w", ErrMalformedMessage)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
