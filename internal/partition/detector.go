// Package partition provides split detection from heartbeat bookkeeping
// and version-based reconciliation of divergent state after a split heals.
package partition

import (
	"log/slog"
	"sort"
	"time"
)

// Status classifies how much a peer is trusted with gossip traffic.
type Status string

const (
	StatusActive      Status = "active"
	StatusSuspect     Status = "suspect"
	StatusQuarantined Status = "quarantined"
)

// Trust thresholds. Scores move as an exponential moving average of
// success/failure signals; new peers start neutral.
const (
	initialTrust    = 0.5
	trustDecay      = 0.95
	suspectBelow    = 0.3
	quarantineBelow = 0.1
)

type peerState struct {
	lastHeartbeat time.Time
	trust         float64
	status        Status
}

// Detector keeps per-node heartbeat timestamps and trust scores, and
// classifies the known node set into alive and dead groups. Not
// goroutine-safe; the owning engine serializes access.
type Detector struct {
	timeout time.Duration
	now     func() time.Time
	nodes   map[string]*peerState
}

// NewDetector creates a detector with the given liveness timeout. now is
// injectable for tests; nil selects the system clock.
func NewDetector(timeout time.Duration, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{timeout: timeout, now: now, nodes: make(map[string]*peerState)}
}

// Heartbeat records that the node was just heard from.
func (d *Detector) Heartbeat(nodeID string) {
	st := d.peer(nodeID)
	st.lastHeartbeat = d.now()
	if st.status != StatusQuarantined {
		st.status = StatusActive
	}
}

// DetectPartitions splits the known node set into alive and dead groups.
// A node is dead iff now - lastHeartbeat >= timeout. Groups come back
// sorted so callers see a stable view.
func (d *Detector) DetectPartitions() (alive, dead []string) {
	now := d.now()
	for nodeID, st := range d.nodes {
		if now.Sub(st.lastHeartbeat) >= d.timeout {
			dead = append(dead, nodeID)
		} else {
			alive = append(alive, nodeID)
		}
	}
	sort.Strings(alive)
	sort.Strings(dead)
	return alive, dead
}

// Alive reports whether the node is within the liveness window.
func (d *Detector) Alive(nodeID string) bool {
	st, ok := d.nodes[nodeID]
	if !ok {
		return false
	}
	return d.now().Sub(st.lastHeartbeat) < d.timeout
}

// ReportSuccess feeds a positive signal (a send that went through, a
// heartbeat exchange) into the peer's trust score.
func (d *Detector) ReportSuccess(nodeID string) {
	st := d.peer(nodeID)
	st.trust = trustDecay*st.trust + (1 - trustDecay)
	if st.trust > 1.0 {
		st.trust = 1.0
	}
	if st.trust >= suspectBelow {
		st.status = StatusActive
	}
}

// ReportFailure feeds a negative signal and downgrades the peer's status
// once trust crosses the documented thresholds.
func (d *Detector) ReportFailure(nodeID string) {
	st := d.peer(nodeID)
	st.trust = trustDecay * st.trust
	if st.trust < quarantineBelow {
		if st.status != StatusQuarantined {
			slog.Warn("peer quarantined", "peer_id", nodeID, "trust", st.trust)
		}
		st.status = StatusQuarantined
		return
	}
	if st.trust < suspectBelow {
		st.status = StatusSuspect
	}
}

// StatusOf returns the trust status of a node; unknown nodes read active.
func (d *Detector) StatusOf(nodeID string) Status {
	if st, ok := d.nodes[nodeID]; ok {
		return st.status
	}
	return StatusActive
}

// Trust returns the node's trust score; unknown nodes read neutral.
func (d *Detector) Trust(nodeID string) float64 {
	if st, ok := d.nodes[nodeID]; ok {
		return st.trust
	}
	return initialTrust
}

// Nodes returns all known node IDs, sorted.
func (d *Detector) Nodes() []string {
	out := make([]string, 0, len(d.nodes))
	for nodeID := range d.nodes {
		out = append(out, nodeID)
	}
	sort.Strings(out)
	return out
}

func (d *Detector) peer(nodeID string) *peerState {
	st, ok := d.nodes[nodeID]
	if !ok {
		st = &peerState{trust: initialTrust, status: StatusActive}
		d.nodes[nodeID] = st
	}
	return st
}
