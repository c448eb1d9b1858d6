package crdt

// LWWMap maps keys to last-writer-wins registers. Deletes are writes of a
// tombstone marker so they arbitrate against concurrent sets by timestamp
// like any other write.
type LWWMap[V any] struct {
	entries map[string]*LWWRegister[V]
}

// NewLWWMap creates an empty map.
func NewLWWMap[V any]() *LWWMap[V] {
	return &LWWMap[V]{entries: make(map[string]*LWWRegister[V])}
}

// Set writes key iff (timestamp, nodeID) is newer than the current entry.
func (m *LWWMap[V]) Set(key string, value V, timestamp uint64, nodeID string) bool {
	return m.register(key).Set(value, timestamp, nodeID)
}

// Delete tombstones key iff the delete is newer than the current entry.
func (m *LWWMap[V]) Delete(key string, timestamp uint64, nodeID string) bool {
	return m.register(key).Clear(timestamp, nodeID)
}

// Get returns the live value for key, if any.
func (m *LWWMap[V]) Get(key string) (V, bool) {
	reg, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return reg.Get()
}

// Keys returns all keys holding a live value, in unspecified order.
func (m *LWWMap[V]) Keys() []string {
	var keys []string
	for key, reg := range m.entries {
		if _, ok := reg.Get(); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Merge folds another map in register by register.
func (m *LWWMap[V]) Merge(other *LWWMap[V]) {
	for key, reg := range other.entries {
		m.register(key).Merge(reg)
	}
}

func (m *LWWMap[V]) register(key string) *LWWRegister[V] {
	reg, ok := m.entries[key]
	if !ok {
		reg = NewLWWRegister[V]()
		m.entries[key] = reg
	}
	return reg
}
