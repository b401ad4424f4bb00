package wlplane

// Binding is the driver level resource behind a Mapping
type Binding interface {
	// Release frees the resource. It is called exactly once, when the
	// last reference to the owning Mapping is dropped.
	Release() error
}

// Mapping is a buffer mapped for scanout by a plane.
//
// A Mapping is reference counted. NewMapping hands out the first
// reference, which belongs to the plane's mapping cache. The active set
// takes a second one with IncRef when it admits the mapping. A cache that
// was drained while the mapping stayed active takes its reference back
// with IncRef when the buffer returns. Each owner
// gives its reference back through BufferManager.Unmap, which calls
// DecRef and releases the binding once the count reaches zero.
type Mapping struct {
	key     BufferKey
	crop    Rect
	refs    int
	binding Binding
}

// NewMapping returns a mapping holding a single reference.
func NewMapping(key BufferKey, binding Binding) *Mapping {
	return &Mapping{
		key:     key,
		refs:    1,
		binding: binding,
	}
}

// Key returns the identity of the mapped buffer
func (m *Mapping) Key() BufferKey {
	return m.key
}

// Crop returns the source crop last applied to the mapping
func (m *Mapping) Crop() Rect {
	return m.crop
}

// SetCrop updates the source crop
func (m *Mapping) SetCrop(r Rect) {
	m.crop = r
}

// Binding returns the driver resource
func (m *Mapping) Binding() Binding {
	return m.binding
}

// Refs returns the number of live references
func (m *Mapping) Refs() int {
	return m.refs
}

// IncRef adds a reference for the active set or the mapping cache.
func (m *Mapping) IncRef() {
	m.refs++
}

// DecRef drops a reference and returns how many are left. Only
// BufferManager.Unmap implementations call it.
func (m *Mapping) DecRef() int {
	if m.refs <= 0 {
		panic("wlplane: mapping reference count below zero")
	}
	m.refs--
	return m.refs
}

// Unmap drops one reference and releases the binding when none remain.
// BufferManager implementations can use it directly.
func (m *Mapping) Unmap() (released bool, err error) {
	if m.DecRef() > 0 {
		return false, nil
	}
	if m.binding == nil {
		return true, nil
	}
	return true, m.binding.Release()
}
