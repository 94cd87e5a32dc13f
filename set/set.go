// Package set provides a minimal generic set used for duplicate detection.
package set

// Set is a set of comparable values. The zero value is an empty set ready
// for use.
type Set[T comparable] struct {
	m map[T]struct{}
}

// Of returns a set holding vs.
func Of[T comparable](vs ...T) *Set[T] {
	s := &Set[T]{m: make(map[T]struct{}, len(vs))}
	for _, v := range vs {
		s.m[v] = struct{}{}
	}
	return s
}

// Insert adds v and reports whether it was not already present.
func (s *Set[T]) Insert(v T) bool {
	if s.m == nil {
		s.m = make(map[T]struct{})
	}
	if _, ok := s.m[v]; ok {
		return false
	}
	s.m[v] = struct{}{}
	return true
}

// Contains reports whether v is in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.m[v]
	return ok
}

// Len returns the number of values in the set.
func (s *Set[T]) Len() int {
	return len(s.m)
}
