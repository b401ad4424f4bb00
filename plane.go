// Package wlplane manages the buffers bound to a display plane.
//
// A Plane tracks which of its attributes (position, source crop,
// transform, buffer) changed since the last commit, and keeps the
// hardware mappings of the buffers it scans out alive for as long as the
// display pipeline may read them. Buffer lookup, mapping and mode queries
// go through collaborators injected at construction, so the same Plane
// runs against the shm/Wayland implementations in this package or test
// doubles.
package wlplane

import (
	"fmt"
	"log/slog"
)

// Plane drives one display plane.
//
// A Plane is not safe for concurrent use; all calls for one plane must
// come from the same goroutine or be serialized by the caller.
type Plane struct {
	index  int
	typ    PlaneType
	device int
	zOrder int

	initialized bool
	protected   bool

	state  updateTracker
	cache  *mappingCache
	active *activeSet

	buffers    BufferManager
	modes      ModeQuerier
	classifier ProtectedClassifier
	hook       func(*Mapping) error
	logger     *slog.Logger
}

// NewPlane creates an uninitialized plane. buffers and modes are the
// collaborators used to map buffers and to query display geometry.
func NewPlane(index int, typ PlaneType, device int, buffers BufferManager, modes ModeQuerier, opts ...PlaneOption) *Plane {
	o := defaultPlaneOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Plane{
		index:      index,
		typ:        typ,
		device:     device,
		zOrder:     -1,
		cache:      newMappingCache(),
		active:     newActiveSet(MinDataBufferCount),
		buffers:    buffers,
		modes:      modes,
		classifier: o.classifier,
		hook:       o.hook,
		logger:     o.logger,
	}
	p.cache.live = p.active.get
	return p
}

func (p *Plane) log() *slog.Logger {
	l := p.logger
	if l == nil {
		l = Logger()
	}
	return l.With("plane", p.index, "device", p.device)
}

// Initialize sizes the buffer cache and makes the plane usable. Buffer
// counts under MinDataBufferCount are raised to it. Initialize always
// succeeds and leaves no pending updates.
func (p *Plane) Initialize(bufferCount int) {
	if bufferCount < MinDataBufferCount {
		p.log().Warn("buffer count too small", "count", bufferCount, "min", MinDataBufferCount)
	}
	capacity := p.cache.setCapacity(bufferCount)

	// a re-initialized plane may hold more mappings than the new size allows
	if p.cache.len() > capacity {
		p.cache.invalidateAll(p.buffers)
	}

	p.initialized = true
	p.state.clearAll()
	p.log().Info("plane initialized", "type", p.typ, "capacity", capacity)
}

// Deinitialize unmaps every buffer the plane holds and returns it to the
// uninitialized state. Calling it again is a no-op.
func (p *Plane) Deinitialize() {
	if p.cache.len() > 0 {
		p.invalidateBufferCache()
	}
	if p.active.len() > 0 {
		p.invalidateActiveBuffers()
	}

	p.state.buffer = 0
	if p.initialized {
		p.log().Info("plane deinitialized")
	}
	p.initialized = false
}

// Reset unmaps every buffer the plane holds but keeps it initialized,
// ready for the next display session.
func (p *Plane) Reset() {
	if p.cache.len() > 0 {
		p.invalidateBufferCache()
	}
	if p.active.len() > 0 {
		p.invalidateActiveBuffers()
	}
	p.state.buffer = 0
}

func (p *Plane) invalidateBufferCache() {
	if !p.initialized {
		p.log().Error("invalidating buffer cache on uninitialized plane")
		return
	}
	p.log().Debug("invalidating buffer cache", "entries", p.cache.len())
	p.cache.invalidateAll(p.buffers)
}

func (p *Plane) invalidateActiveBuffers() {
	if !p.initialized {
		p.log().Error("invalidating active buffers on uninitialized plane")
		return
	}
	p.log().Debug("invalidating active buffers", "entries", p.active.len())
	p.active.invalidateAll(p.buffers)
}

// SetPosition sets the destination rectangle on the display.
func (p *Plane) SetPosition(x, y, w, h int) {
	r := Rect{X: x, Y: y, W: w, H: h}
	if p.state.setPosition(r) {
		p.log().Debug("position changed", "rect", r)
	}
}

// SetSourceCrop sets the part of the buffer that is scanned out.
func (p *Plane) SetSourceCrop(x, y, w, h int) {
	r := Rect{X: x, Y: y, W: w, H: h}
	if p.state.setCrop(r) {
		p.log().Debug("source crop changed", "rect", r)
	}
}

// SetTransform sets the plane rotation in degrees. Values other than 90,
// 180 and 270 select no rotation.
func (p *Plane) SetTransform(deg int) {
	if p.state.setTransform(deg) {
		p.log().Debug("transform changed", "transform", p.state.transform)
	}
}

// SetDataBuffer binds the buffer behind h to the plane.
//
// Submitting the buffer that is already bound does nothing beyond
// clearing BufferChanged. Otherwise the buffer is locked, mapped (or found
// in the buffer cache) and admitted to the active set. On failure the
// bound buffer and update mask are left as they were and the plane stays
// usable.
func (p *Plane) SetDataBuffer(h BufferHandle) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	if h == InvalidHandle {
		p.log().Warn("invalid buffer handle")
		return ErrInvalidHandle
	}
	if p.state.sameBuffer(h) {
		return nil
	}

	buf, err := p.buffers.LockDataBuffer(h)
	if err != nil {
		p.log().Warn("failed to lock buffer", "handle", h, "err", err)
		return fmt.Errorf("%w: handle %#x: %w", ErrBufferLockFailed, uint32(h), err)
	}

	crop := p.state.crop
	buf.SetCrop(crop)
	protected := p.classifier.IsProtected(buf)

	m, hit, evicted, err := p.cache.lookupOrInsert(p.buffers, buf, crop)
	p.buffers.UnlockDataBuffer(buf)
	if evicted {
		p.log().Debug("buffer cache full, invalidated", "capacity", p.cache.capacity)
	}
	if err != nil {
		p.log().Warn("failed to map buffer", "handle", h, "err", err)
		return fmt.Errorf("handle %#x: %w", uint32(h), err)
	}
	if hit {
		p.log().Debug("buffer cache hit", "handle", h, "key", buf.Key())
	} else {
		p.log().Debug("buffer cache miss", "handle", h, "key", buf.Key())
	}

	if p.hook != nil {
		if err := p.hook(m); err != nil {
			return fmt.Errorf("program buffer %#x: %w", uint32(h), err)
		}
	}

	p.protected = protected
	p.state.bindBuffer(h)
	if old := p.active.admit(p.buffers, m); old != nil {
		p.log().Debug("retired active buffer", "key", old.Key())
	}
	return nil
}

// AssignToDevice moves the plane to another display device.
func (p *Plane) AssignToDevice(device int) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	p.device = device
	return nil
}

// Flip reports whether the plane has anything to commit. A false result
// means the hardware commit must be skipped.
func (p *Plane) Flip() (bool, error) {
	if !p.initialized {
		return false, ErrNotInitialized
	}
	return p.state.pending(), nil
}

// CommitReady reports whether any attribute changed since the last
// ClearUpdates.
func (p *Plane) CommitReady() bool {
	return p.state.pending()
}

// ClearUpdates forgets all pending changes. Call it after a successful
// commit.
func (p *Plane) ClearUpdates() {
	p.state.clearAll()
}

// CheckPosition clamps r to the current mode of the plane's device: the
// origin is moved onto the screen and the size trimmed so the rectangle
// does not run past the right or bottom edge. Without mode information r
// is returned unchanged.
func (p *Plane) CheckPosition(r Rect) Rect {
	if p.modes == nil {
		p.log().Warn("failed to get mode info", "err", ErrModeUnavailable)
		return r
	}
	mode, err := p.modes.ModeInfo(p.device)
	if err != nil {
		p.log().Warn("failed to get mode info", "err", err)
		return r
	}

	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.W > mode.Width {
		r.W = mode.Width - r.X
	}
	if r.Y+r.H > mode.Height {
		r.H = mode.Height - r.Y
	}
	return r
}

// SetZOrder sets the stacking position of the plane.
func (p *Plane) SetZOrder(z int) {
	p.zOrder = z
}

// ZOrder returns the stacking position, -1 if never set.
func (p *Plane) ZOrder() int {
	return p.zOrder
}

// Index returns the plane index.
func (p *Plane) Index() int { return p.index }

// Type returns the plane type.
func (p *Plane) Type() PlaneType { return p.typ }

// Device returns the display device the plane is assigned to.
func (p *Plane) Device() int { return p.device }

// Initialized reports whether Initialize has been called since the last Deinitialize.
func (p *Plane) Initialized() bool { return p.initialized }

// Position returns the destination rectangle.
func (p *Plane) Position() Rect { return p.state.position }

// SourceCrop returns the source crop.
func (p *Plane) SourceCrop() Rect { return p.state.crop }

// Transform returns the plane rotation.
func (p *Plane) Transform() Transform { return p.state.transform }

// CurrentBuffer returns the bound buffer handle, 0 if none.
func (p *Plane) CurrentBuffer() BufferHandle { return p.state.buffer }

// IsProtectedBuffer reports whether the bound buffer carries protected content.
func (p *Plane) IsProtectedBuffer() bool { return p.protected }

// Updates returns the pending update mask.
func (p *Plane) Updates() UpdateMask { return p.state.mask }

// CacheCapacity returns the buffer cache size set by Initialize.
func (p *Plane) CacheCapacity() int { return p.cache.capacity }

// CacheLen returns the number of cached mappings.
func (p *Plane) CacheLen() int { return p.cache.len() }

// ActiveLen returns the number of mappings held for the display pipeline.
func (p *Plane) ActiveLen() int { return p.active.len() }
