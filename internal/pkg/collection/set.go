package collection

// OrderedSet is a set that remembers insertion order.
type OrderedSet[T comparable] struct {
	index map[T]struct{}
	items []T
}

func NewOrderedSet[T comparable](items ...T) *OrderedSet[T] {
	s := &OrderedSet[T]{index: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts v and reports whether it was not present.
func (s *OrderedSet[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *OrderedSet[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *OrderedSet[T]) Len() int {
	return len(s.items)
}

// Items returns a copy of the elements in insertion order.
func (s *OrderedSet[T]) Items() []T {
	return append([]T(nil), s.items...)
}
