package crdt

import "github.com/google/uuid"

// ORSet is an observed-remove set with add-wins semantics. Every add is
// recorded under a unique tag; remove tombstones only the tags observed
// locally at remove time, so a concurrent add survives because its tag was
// never tombstoned.
type ORSet[T comparable] struct {
	elements   map[T]map[string]struct{}
	tombstones map[T]map[string]struct{}
}

// NewORSet creates an empty observed-remove set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		elements:   make(map[T]map[string]struct{}),
		tombstones: make(map[T]map[string]struct{}),
	}
}

// Add inserts the element under a fresh unique tag and returns the tag.
func (s *ORSet[T]) Add(item T) string {
	tag := uuid.NewString()
	s.AddTag(item, tag)
	return tag
}

// AddTag inserts the element under an explicit tag. Callers use this when
// replaying adds received from other replicas.
func (s *ORSet[T]) AddTag(item T, tag string) {
	if s.elements[item] == nil {
		s.elements[item] = make(map[string]struct{})
	}
	s.elements[item][tag] = struct{}{}
}

// Remove tombstones every tag currently observed for the element.
func (s *ORSet[T]) Remove(item T) {
	tags, ok := s.elements[item]
	if !ok {
		return
	}
	if s.tombstones[item] == nil {
		s.tombstones[item] = make(map[string]struct{})
	}
	for tag := range tags {
		s.tombstones[item][tag] = struct{}{}
	}
}

// Contains reports whether at least one add tag survives the tombstones.
func (s *ORSet[T]) Contains(item T) bool {
	for tag := range s.elements[item] {
		if _, removed := s.tombstones[item][tag]; !removed {
			return true
		}
	}
	return false
}

// Items returns all live elements in unspecified order.
func (s *ORSet[T]) Items() []T {
	var out []T
	for item := range s.elements {
		if s.Contains(item) {
			out = append(out, item)
		}
	}
	return out
}

// Merge folds another set in by unioning both tag maps.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	for item, tags := range other.elements {
		if s.elements[item] == nil {
			s.elements[item] = make(map[string]struct{})
		}
		for tag := range tags {
			s.elements[item][tag] = struct{}{}
		}
	}
	for item, tags := range other.tombstones {
		if s.tombstones[item] == nil {
			s.tombstones[item] = make(map[string]struct{})
		}
		for tag := range tags {
			s.tombstones[item][tag] = struct{}{}
		}
	}
}

// Compact drops (element, tag) pairs that are both added and tombstoned,
// returning the number of tags pruned. A pruned pair no longer cancels a
// matching add arriving in a later merge, so compaction is only safe once
// every replica has observed the tombstone (a quiescence window with no
// open partition). The caller owns that judgement.
func (s *ORSet[T]) Compact() int {
	pruned := 0
	for item, tags := range s.tombstones {
		for tag := range tags {
			if _, added := s.elements[item][tag]; added {
				delete(s.elements[item], tag)
				delete(s.tombstones[item], tag)
				pruned++
			}
		}
		if len(s.tombstones[item]) == 0 {
			delete(s.tombstones, item)
		}
		if len(s.elements[item]) == 0 {
			delete(s.elements, item)
		}
	}
	return pruned
}

// TombstoneCount returns the total number of tombstoned tags. Exposed for
// the compaction janitor's gauge.
func (s *ORSet[T]) TombstoneCount() int {
	total := 0
	for _, tags := range s.tombstones {
		total += len(tags)
	}
	return total
}
