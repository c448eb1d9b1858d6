package gossip

import (
	"encoding/json"
	"fmt"
)

// StateSnapshot is the full-state exchange used to reconcile after a long
// split, where per-key rounds would take too many intervals. Delta traffic
// stays on Message; a snapshot carries the whole view at once.
type StateSnapshot struct {
	NodeID   string            `json:"node_id"`
	State    map[string][]byte `json:"state"`
	Versions map[string]uint64 `json:"versions"`
}

// Validate checks the load-bearing fields. Every state key must carry a
// version; a snapshot without one would silently lose the heal arbitration
// for that key.
func (s StateSnapshot) Validate() error {
	if s.NodeID == "" {
		return fmt.Errorf("empty node id: %w", ErrMalformedMessage)
	}
	for k := range s.State {
		if s.Versions[k] == 0 {
			return fmt.Errorf("key %q missing version: %w", k, ErrMalformedMessage)
		}
	}
	return nil
}

// EncodeSnapshot serializes a snapshot for the transport.
func EncodeSnapshot(s StateSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses and validates a snapshot off the wire.
func DecodeSnapshot(data []byte) (StateSnapshot, error) {
	var s StateSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return StateSnapshot{}, fmt.Errorf("decode snapshot: %w", ErrMalformedMessage)
	}
	if err := s.Validate(); err != nil {
		return StateSnapshot{}, err
	}
	return s, nil
}
