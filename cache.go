package wlplane

import "fmt"

// mappingCache holds the mappings a plane has created, keyed by buffer.
//
// When the cache is full and a new buffer arrives, every entry is
// dropped rather than just the oldest one. Without knowing which entries
// the display pipeline still reads, dropping a single entry could unmap
// a buffer that is about to be scanned out; the active set keeps its own
// references to cover the buffers that are on screen.
//
// The cache is not safe for concurrent use.
type mappingCache struct {
	capacity int
	entries  map[BufferKey]*Mapping
	order    []BufferKey // insertion order, used when draining

	// live finds a mapping of the buffer that is still held elsewhere,
	// so a buffer coming back after a drain is not mapped twice.
	live func(BufferKey) *Mapping
}

func newMappingCache() *mappingCache {
	return &mappingCache{
		entries: make(map[BufferKey]*Mapping),
	}
}

// setCapacity clamps capacity to MinDataBufferCount and returns the
// value in effect.
func (c *mappingCache) setCapacity(capacity int) int {
	if capacity < MinDataBufferCount {
		capacity = MinDataBufferCount
	}
	c.capacity = capacity
	return capacity
}

func (c *mappingCache) len() int {
	return len(c.entries)
}

func (c *mappingCache) get(key BufferKey) (*Mapping, bool) {
	m, ok := c.entries[key]
	return m, ok
}

// lookupOrInsert returns the cached mapping for buf, refreshing its crop,
// or maps buf through bm. A miss on a full cache drains the cache first;
// evicted reports whether that happened. On a miss a mapping still
// returned by live is adopted instead: the cache takes a reference on it
// and bm.Map is not called.
func (c *mappingCache) lookupOrInsert(bm BufferManager, buf DataBuffer, crop Rect) (m *Mapping, hit, evicted bool, err error) {
	if m, ok := c.entries[buf.Key()]; ok {
		m.SetCrop(crop)
		return m, true, false, nil
	}

	if len(c.entries) >= c.capacity {
		c.invalidateAll(bm)
		evicted = true
	}

	if c.live != nil {
		if m = c.live(buf.Key()); m != nil {
			m.IncRef()
			c.insert(m, crop)
			return m, false, evicted, nil
		}
	}

	m, err = bm.Map(buf)
	if err != nil {
		return nil, false, evicted, fmt.Errorf("%w: %w", ErrMapFailed, err)
	}
	if m == nil {
		return nil, false, evicted, ErrMapFailed
	}
	c.insert(m, crop)
	return m, false, evicted, nil
}

func (c *mappingCache) insert(m *Mapping, crop Rect) {
	m.SetCrop(crop)
	c.entries[m.Key()] = m
	c.order = append(c.order, m.Key())
}

// invalidateAll unmaps every mapping, oldest first, and empties the cache.
// Entries leave the cache before they are unmapped.
func (c *mappingCache) invalidateAll(bm BufferManager) {
	order := c.order
	entries := c.entries
	c.order = nil
	c.entries = make(map[BufferKey]*Mapping, c.capacity)

	for _, key := range order {
		bm.Unmap(entries[key])
	}
}
