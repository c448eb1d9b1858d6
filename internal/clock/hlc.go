package clock

import "time"

// Timestamp is a hybrid logical clock reading: wall time in milliseconds
// plus a logical counter that disambiguates events within the same
// millisecond. NodeID breaks the remaining ties so the order is total.
type Timestamp struct {
	Physical uint64 `json:"physical"`
	Logical  uint64 `json:"logical"`
	NodeID   string `json:"node_id"`
}

// Compare orders timestamps lexicographically on (physical, logical) with
// node ID as the final tie-break. Returns -1, 0 or 1.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Physical < other.Physical:
		return -1
	case t.Physical > other.Physical:
		return 1
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	case t.NodeID < other.NodeID:
		return -1
	case t.NodeID > other.NodeID:
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// HLC is a hybrid logical clock. For any two local events e1 before e2 on
// the same node, Now() guarantees (physical, logical)(e1) < (e2)
// lexicographically, even when the wall clock stalls or steps backwards.
type HLC struct {
	physical uint64
	logical  uint64
	nodeID   string
	wall     func() uint64
}

// NewHLC creates a clock for the given node. wall supplies wall time in
// milliseconds; nil selects the system clock.
func NewHLC(nodeID string, wall func() uint64) *HLC {
	if wall == nil {
		wall = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	return &HLC{nodeID: nodeID, wall: wall}
}

// Now advances the clock for a local event and returns its timestamp.
func (c *HLC) Now() Timestamp {
	wall := c.wall()
	if wall > c.physical {
		c.physical = wall
		c.logical = 0
	} else {
		c.logical++
	}
	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// Receive folds a remote timestamp in, preserving local monotonicity.
func (c *HLC) Receive(remotePhysical, remoteLogical uint64) Timestamp {
	wall := c.wall()
	switch {
	case wall > c.physical && wall > remotePhysical:
		c.physical = wall
		c.logical = 0
	case c.physical == remotePhysical:
		if remoteLogical > c.logical {
			c.logical = remoteLogical
		}
		c.logical++
	case c.physical > remotePhysical:
		c.logical++
	default:
		c.physical = remotePhysical
		c.logical = remoteLogical + 1
	}
	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// Last returns the most recent timestamp without advancing the clock.
func (c *HLC) Last() Timestamp {
	return Timestamp{Physical: c.physical, Logical: c.logical, NodeID: c.nodeID}
}
