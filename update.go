package wlplane

import "strings"

// UpdateMask records which plane attributes changed since the last commit
type UpdateMask uint32

// Update bits
const (
	PositionChanged UpdateMask = 1 << iota
	SourceCropChanged
	TransformChanged
	BufferChanged
)

// Has reports whether every bit in bits is set
func (m UpdateMask) Has(bits UpdateMask) bool {
	return m&bits == bits
}

// mark sets bits when changed is true and clears them otherwise
func (m *UpdateMask) mark(bits UpdateMask, changed bool) {
	if changed {
		*m |= bits
	} else {
		*m &^= bits
	}
}

func (m UpdateMask) String() string {
	if m == 0 {
		return "none"
	}
	var names []string
	for _, b := range []struct {
		bit  UpdateMask
		name string
	}{
		{PositionChanged, "position"},
		{SourceCropChanged, "crop"},
		{TransformChanged, "transform"},
		{BufferChanged, "buffer"},
	} {
		if m.Has(b.bit) {
			names = append(names, b.name)
		}
	}
	return strings.Join(names, "|")
}

// updateTracker holds the plane attributes a commit programs and which of
// them changed. Each setter compares by value: a new value is stored and
// its bit set, an identical value only clears its bit.
type updateTracker struct {
	position  Rect
	crop      Rect
	transform Transform
	buffer    BufferHandle
	mask      UpdateMask
}

func (t *updateTracker) setPosition(r Rect) bool {
	changed := !t.position.Equal(r)
	if changed {
		t.position = r
	}
	t.mask.mark(PositionChanged, changed)
	return changed
}

func (t *updateTracker) setCrop(r Rect) bool {
	changed := !t.crop.Equal(r)
	if changed {
		t.crop = r
	}
	t.mask.mark(SourceCropChanged, changed)
	return changed
}

func (t *updateTracker) setTransform(deg int) bool {
	tr := NormalizeTransform(deg)
	changed := t.transform != tr
	if changed {
		t.transform = tr
	}
	t.mask.mark(TransformChanged, changed)
	return changed
}

// sameBuffer reports whether h is already bound, clearing the buffer bit
// if so. A different handle leaves the mask alone; the bit is only set
// by bindBuffer once the new buffer is mapped.
func (t *updateTracker) sameBuffer(h BufferHandle) bool {
	if t.buffer != h {
		return false
	}
	t.mask.mark(BufferChanged, false)
	return true
}

func (t *updateTracker) bindBuffer(h BufferHandle) {
	t.buffer = h
	t.mask.mark(BufferChanged, true)
}

func (t *updateTracker) pending() bool {
	return t.mask != 0
}

func (t *updateTracker) clearAll() {
	t.mask = 0
}
