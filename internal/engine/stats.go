package engine

import (
	"github.com/swarmguard/sync-engine/internal/clock"
	"github.com/swarmguard/sync-engine/internal/digest"
)

// Stats is a point-in-time snapshot of one engine for introspection
// endpoints and observable gauges.
type Stats struct {
	NodeID         string            `json:"node_id"`
	Keys           int               `json:"keys"`
	GossipKeys     int               `json:"gossip_keys"`
	LogLength      uint64            `json:"log_length"`
	CommittedIndex int64             `json:"committed_index"`
	AppliedIndex   int64             `json:"applied_index"`
	Peers          int               `json:"peers"`
	Members        int               `json:"members"`
	Tombstones     int               `json:"tombstones"`
	AliveNodes     []string          `json:"alive_nodes"`
	DeadNodes      []string          `json:"dead_nodes"`
	VectorClock    clock.VectorClock `json:"vector_clock"`
	Digest         uint64            `json:"digest"`
	HLC            clock.Timestamp   `json:"hlc"`
}

// Stats snapshots the engine under the lock.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	alive, dead := e.detector.DetectPartitions()
	state, versions := e.gossip.Snapshot()
	return Stats{
		NodeID:         e.cfg.NodeID,
		Keys:           e.sm.Len(),
		GossipKeys:     e.gossip.Keys(),
		LogLength:      e.log.Len(),
		CommittedIndex: e.log.CommittedIndex(),
		AppliedIndex:   e.log.AppliedIndex(),
		Peers:          len(e.peers),
		Members:        len(e.members.Items()),
		Tombstones:     e.members.TombstoneCount(),
		AliveNodes:     alive,
		DeadNodes:      dead,
		VectorClock:    e.vclock.Copy(),
		Digest:         digest.Sum(state, versions),
		HLC:            e.hlc.Last(),
	}
}
