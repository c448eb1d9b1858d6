// Package crdt implements the conflict-free replicated data types used for
// multi-node state replication: counters, sets and last-writer-wins
// registers/maps. Every type exposes a Merge that is commutative,
// associative and idempotent, so replicas that have observed the same
// update set converge regardless of delivery order.
//
// Types are not goroutine-safe; the owning engine serializes access.
package crdt

// GCounter is a grow-only counter keyed by node ID. Each node only ever
// increments its own entry; merge takes the per-entry maximum.
type GCounter struct {
	counts map[string]uint64
	nodeID string
}

// NewGCounter creates a counter owned by the given node.
func NewGCounter(nodeID string) *GCounter {
	return &GCounter{counts: make(map[string]uint64), nodeID: nodeID}
}

// Increment adds delta to this node's entry.
func (c *GCounter) Increment(delta uint64) {
	c.counts[c.nodeID] += delta
}

// Value returns the total count across all nodes.
func (c *GCounter) Value() uint64 {
	var total uint64
	for _, count := range c.counts {
		total += count
	}
	return total
}

// Merge folds another counter in, taking the maximum for each node.
func (c *GCounter) Merge(other *GCounter) {
	for nodeID, count := range other.counts {
		if c.counts[nodeID] < count {
			c.counts[nodeID] = count
		}
	}
}

// Counts returns a copy of the per-node entries.
func (c *GCounter) Counts() map[string]uint64 {
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// PNCounter supports decrement by pairing two grow-only counters.
type PNCounter struct {
	positive *GCounter
	negative *GCounter
}

// NewPNCounter creates a counter owned by the given node.
func NewPNCounter(nodeID string) *PNCounter {
	return &PNCounter{positive: NewGCounter(nodeID), negative: NewGCounter(nodeID)}
}

// Increment adds delta.
func (c *PNCounter) Increment(delta uint64) {
	c.positive.Increment(delta)
}

// Decrement subtracts delta.
func (c *PNCounter) Decrement(delta uint64) {
	c.negative.Increment(delta)
}

// Value returns the net count.
func (c *PNCounter) Value() int64 {
	return int64(c.positive.Value()) - int64(c.negative.Value())
}

// Merge folds another counter in.
func (c *PNCounter) Merge(other *PNCounter) {
	c.positive.Merge(other.positive)
	c.negative.Merge(other.negative)
}
