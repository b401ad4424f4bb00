package wlplane

// activeSet holds the mappings that may still be read by the display
// pipeline. A buffer can stay on screen for a refresh cycle or more after
// the compositor has moved on, so these mappings keep an extra reference
// and outlive their eviction from the mapping cache.
//
// The set is a FIFO bounded to MinDataBufferCount entries. It is not
// safe for concurrent use.
type activeSet struct {
	capacity int
	items    []*Mapping // front is the oldest
}

func newActiveSet(capacity int) *activeSet {
	return &activeSet{
		capacity: capacity,
		items:    make([]*Mapping, 0, capacity),
	}
}

func (s *activeSet) len() int {
	return len(s.items)
}

func (s *activeSet) index(key BufferKey) int {
	for i, m := range s.items {
		if m != nil && m.Key() == key {
			return i
		}
	}
	return -1
}

func (s *activeSet) contains(key BufferKey) bool {
	return s.index(key) >= 0
}

// get returns the active mapping of a buffer, or nil
func (s *activeSet) get(key BufferKey) *Mapping {
	if i := s.index(key); i >= 0 {
		return s.items[i]
	}
	return nil
}

// admit queues m behind the active mappings and takes a reference on it.
// A buffer already in the set keeps its mapping and reference and moves
// to the back, so the buffer on screen is never the next one retired.
// When the set is full the oldest mapping is removed and then unmapped.
// It returns the evicted mapping, if any.
func (s *activeSet) admit(bm BufferManager, m *Mapping) *Mapping {
	if i := s.index(m.Key()); i >= 0 {
		cur := s.items[i]
		copy(s.items[i:], s.items[i+1:])
		s.items[len(s.items)-1] = cur
		return nil
	}

	var oldest *Mapping
	if len(s.items) >= s.capacity {
		oldest = s.items[0]
		copy(s.items, s.items[1:])
		s.items[len(s.items)-1] = nil
		s.items = s.items[:len(s.items)-1]
		bm.Unmap(oldest)
	}

	m.IncRef()
	s.items = append(s.items, m)
	return oldest
}

// invalidateAll unmaps every active mapping and empties the set
func (s *activeSet) invalidateAll(bm BufferManager) {
	items := s.items
	s.items = make([]*Mapping, 0, s.capacity)
	for _, m := range items {
		bm.Unmap(m)
	}
}
