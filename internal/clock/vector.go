// Package clock provides the causal clocks used to timestamp and order
// replicated events: a vector clock for detecting concurrency and a hybrid
// logical clock for a monotonic total order.
//
// Clock types are not goroutine-safe; the owning engine serializes access.
package clock

// VectorClock tracks causality between events as per-node counters.
// Counters are monotonically non-decreasing per entry.
type VectorClock map[string]uint64

// NewVectorClock creates an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment advances the counter for the given node.
func (vc VectorClock) Increment(nodeID string) {
	vc[nodeID]++
}

// Merge folds another clock in, taking the maximum for each node.
func (vc VectorClock) Merge(other VectorClock) {
	for nodeID, counter := range other {
		if vc[nodeID] < counter {
			vc[nodeID] = counter
		}
	}
}

// HappensBefore reports whether every entry of vc is <= the corresponding
// entry of other and at least one is strictly less.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	strict := false
	for nodeID, counter := range vc {
		oc := other[nodeID]
		if counter > oc {
			return false
		}
		if counter < oc {
			strict = true
		}
	}
	if strict {
		return true
	}
	// Entries present only in other count as strictly greater than the
	// implicit zero on this side.
	for nodeID, oc := range other {
		if _, seen := vc[nodeID]; !seen && oc > 0 {
			return true
		}
	}
	return false
}

// Concurrent reports whether neither clock dominates the other and they
// are not equal.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.HappensBefore(other) && !other.HappensBefore(vc) && !vc.Equal(other)
}

// Equal reports whether both clocks carry identical counters, treating
// absent entries as zero.
func (vc VectorClock) Equal(other VectorClock) bool {
	for nodeID, counter := range vc {
		if other[nodeID] != counter {
			return false
		}
	}
	for nodeID, counter := range other {
		if vc[nodeID] != counter {
			return false
		}
	}
	return true
}

// Copy creates a deep copy.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}
