package crdt

// GSet is a grow-only set; merge is set union.
type GSet[T comparable] struct {
	items map[T]struct{}
}

// NewGSet creates an empty grow-only set.
func NewGSet[T comparable]() *GSet[T] {
	return &GSet[T]{items: make(map[T]struct{})}
}

// Add inserts an element. Elements can never be removed.
func (s *GSet[T]) Add(item T) {
	s.items[item] = struct{}{}
}

// Contains reports whether the element is present.
func (s *GSet[T]) Contains(item T) bool {
	_, ok := s.items[item]
	return ok
}

// Items returns all elements in unspecified order.
func (s *GSet[T]) Items() []T {
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	return out
}

// Len returns the number of elements.
func (s *GSet[T]) Len() int {
	return len(s.items)
}

// Merge folds another set in (union).
func (s *GSet[T]) Merge(other *GSet[T]) {
	for item := range other.items {
		s.items[item] = struct{}{}
	}
}
