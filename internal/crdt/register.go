package crdt

// LWWRegister is a last-writer-wins register. Timestamps are supplied by
// the caller (typically HLC readings packed into a uint64 or plain
// milliseconds); the register itself never reads a clock. Equal timestamps
// resolve deterministically by the lexicographically greater node ID, so
// every replica picks the same winner.
type LWWRegister[V any] struct {
	value     V
	timestamp uint64
	nodeID    string
	present   bool
	deleted   bool
}

// NewLWWRegister creates an empty register.
func NewLWWRegister[V any]() *LWWRegister[V] {
	return &LWWRegister[V]{}
}

// Set applies the write iff it is newer than the current entry. Returns
// whether the write took effect.
func (r *LWWRegister[V]) Set(value V, timestamp uint64, nodeID string) bool {
	return r.apply(value, timestamp, nodeID, false)
}

// Clear applies a delete marker iff it is newer than the current entry.
func (r *LWWRegister[V]) Clear(timestamp uint64, nodeID string) bool {
	var zero V
	return r.apply(zero, timestamp, nodeID, true)
}

func (r *LWWRegister[V]) apply(value V, timestamp uint64, nodeID string, deleted bool) bool {
	if r.present && !newer(timestamp, nodeID, r.timestamp, r.nodeID) {
		return false
	}
	r.value = value
	r.timestamp = timestamp
	r.nodeID = nodeID
	r.present = true
	r.deleted = deleted
	return true
}

// Get returns the value and whether the register holds a live one.
func (r *LWWRegister[V]) Get() (V, bool) {
	if !r.present || r.deleted {
		var zero V
		return zero, false
	}
	return r.value, true
}

// Timestamp returns the winning write's timestamp and node.
func (r *LWWRegister[V]) Timestamp() (uint64, string) {
	return r.timestamp, r.nodeID
}

// Merge keeps the entry with the larger (timestamp, nodeID).
func (r *LWWRegister[V]) Merge(other *LWWRegister[V]) {
	if !other.present {
		return
	}
	r.apply(other.value, other.timestamp, other.nodeID, other.deleted)
}

// newer reports whether write (ts, node) beats (curTS, curNode).
func newer(ts uint64, node string, curTS uint64, curNode string) bool {
	if ts != curTS {
		return ts > curTS
	}
	return node > curNode
}
