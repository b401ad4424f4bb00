package wlplane

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestPlane(bm BufferManager, opts ...PlaneOption) *Plane {
	modes := fakeModes{0: {Width: 1920, Height: 1080, Refresh: 60000}}
	return NewPlane(1, PlaneOverlay, 0, bm, modes, opts...)
}

func TestPlaneDefaults(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())

	if p.Initialized() {
		t.Error("new plane is initialized")
	}
	if p.ZOrder() != -1 {
		t.Errorf("ZOrder() = %d, want -1", p.ZOrder())
	}
	if p.Index() != 1 || p.Type() != PlaneOverlay || p.Device() != 0 {
		t.Errorf("identity = %d/%v/%d", p.Index(), p.Type(), p.Device())
	}
	if p.CurrentBuffer() != 0 || p.Transform() != Transform0 {
		t.Error("new plane has a buffer or a rotation")
	}
}

func TestPlaneRequiresInitialize(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)

	if err := p.SetDataBuffer(1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetDataBuffer: err = %v, want ErrNotInitialized", err)
	}
	if err := p.AssignToDevice(2); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AssignToDevice: err = %v, want ErrNotInitialized", err)
	}
	if _, err := p.Flip(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Flip: err = %v, want ErrNotInitialized", err)
	}
	if bm.locks != 0 {
		t.Errorf("uninitialized plane locked %d buffers", bm.locks)
	}

	// plain value setters work before Initialize
	p.SetPosition(1, 2, 3, 4)
	p.SetSourceCrop(0, 0, 3, 4)
	p.SetTransform(90)
	if p.Position() != (Rect{X: 1, Y: 2, W: 3, H: 4}) {
		t.Errorf("Position() = %v", p.Position())
	}
	if p.SourceCrop() != (Rect{W: 3, H: 4}) || p.Transform() != Transform90 {
		t.Errorf("crop = %v, transform = %d", p.SourceCrop(), p.Transform())
	}
}

func TestPlaneInitializeClamps(t *testing.T) {
	for _, count := range []int{-1, 0, 1} {
		p := newTestPlane(newFakeBufferManager())
		p.Initialize(count)
		if !p.Initialized() {
			t.Errorf("Initialize(%d) left plane uninitialized", count)
		}
		if p.CacheCapacity() != MinDataBufferCount {
			t.Errorf("Initialize(%d): capacity = %d, want %d", count, p.CacheCapacity(), MinDataBufferCount)
		}
	}

	p := newTestPlane(newFakeBufferManager())
	p.Initialize(8)
	if p.CacheCapacity() != 8 {
		t.Errorf("capacity = %d, want 8", p.CacheCapacity())
	}
}

func TestPlaneCommitReady(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())

	p.SetPosition(0, 0, 10, 10)
	p.Initialize(3)
	if p.CommitReady() {
		t.Fatal("CommitReady() = true right after Initialize")
	}
	if ready, err := p.Flip(); err != nil || ready {
		t.Fatalf("Flip() = %v, %v; want false, nil", ready, err)
	}

	changes := []struct {
		name  string
		apply func() error
	}{
		{"position", func() error { p.SetPosition(5, 5, 10, 10); return nil }},
		{"crop", func() error { p.SetSourceCrop(1, 1, 8, 8); return nil }},
		{"transform", func() error { p.SetTransform(270); return nil }},
		{"buffer", func() error { return p.SetDataBuffer(42) }},
	}

	for _, c := range changes {
		p.ClearUpdates()
		if p.CommitReady() {
			t.Fatalf("%s: CommitReady() = true after ClearUpdates", c.name)
		}
		if err := c.apply(); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !p.CommitReady() {
			t.Errorf("%s: CommitReady() = false after a change", c.name)
		}
		if ready, _ := p.Flip(); !ready {
			t.Errorf("%s: Flip() = false after a change", c.name)
		}
	}
}

func TestPlaneSetPositionTwice(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())
	p.Initialize(2)

	p.SetPosition(10, 20, 30, 40)
	if !p.Updates().Has(PositionChanged) {
		t.Error("first SetPosition did not mark position")
	}
	p.SetPosition(10, 20, 30, 40)
	if p.Updates().Has(PositionChanged) {
		t.Error("repeated SetPosition left position marked")
	}
}

func TestPlaneBufferReuse(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)
	p.Initialize(1)

	const a, b BufferHandle = 0xa, 0xb
	p.SetSourceCrop(0, 0, 64, 64)
	for _, h := range []BufferHandle{a, b} {
		if err := p.SetDataBuffer(h); err != nil {
			t.Fatalf("SetDataBuffer(%#x): %v", h, err)
		}
	}

	p.SetSourceCrop(0, 0, 32, 32)
	if err := p.SetDataBuffer(a); err != nil {
		t.Fatalf("SetDataBuffer(a) again: %v", err)
	}

	if p.CacheLen() != 2 {
		t.Errorf("CacheLen() = %d, want 2", p.CacheLen())
	}
	if bm.maps[BufferKey(a)] != 1 || bm.maps[BufferKey(b)] != 1 {
		t.Errorf("maps = %v, want one per buffer", bm.maps)
	}
	if bm.totalUnmaps() != 0 {
		t.Errorf("unmaps = %v, want none", bm.unmaps)
	}
	m, _ := p.cache.get(BufferKey(a))
	if m.Crop() != (Rect{W: 32, H: 32}) {
		t.Errorf("cache hit crop = %v, want 0,0 32x32", m.Crop())
	}
	if p.CurrentBuffer() != a {
		t.Errorf("CurrentBuffer() = %#x, want %#x", p.CurrentBuffer(), a)
	}
	if bm.locks != bm.unlocks {
		t.Errorf("locks = %d, unlocks = %d", bm.locks, bm.unlocks)
	}
}

func TestPlaneResubmitSameBuffer(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)
	p.Initialize(4)

	if err := p.SetDataBuffer(3); err != nil {
		t.Fatal(err)
	}
	if !p.Updates().Has(BufferChanged) {
		t.Error("new buffer not marked")
	}
	locks := bm.locks

	if err := p.SetDataBuffer(3); err != nil {
		t.Fatal(err)
	}
	if bm.locks != locks {
		t.Error("resubmitting the bound buffer locked it again")
	}
	if p.Updates().Has(BufferChanged) {
		t.Error("resubmitting the bound buffer left it marked")
	}
	if p.ActiveLen() != 1 {
		t.Errorf("ActiveLen() = %d, want 1", p.ActiveLen())
	}
}

func TestPlaneInvalidHandle(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)
	p.Initialize(2)

	if err := p.SetDataBuffer(0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("err = %v, want ErrInvalidHandle", err)
	}
	if bm.locks != 0 {
		t.Error("zero handle was looked up")
	}
}

func TestPlaneSetDataBufferFailureKeepsState(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(bm *fakeBufferManager)
		target error
		cause  error
	}{
		{
			name:   "lock",
			setup:  func(bm *fakeBufferManager) { bm.lockFail[9] = true },
			target: ErrBufferLockFailed,
			cause:  errFakeLock,
		},
		{
			name:   "map",
			setup:  func(bm *fakeBufferManager) { bm.mapFail[9] = true },
			target: ErrMapFailed,
			cause:  errFakeMap,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bm := newFakeBufferManager()
			test.setup(bm)
			p := newTestPlane(bm)
			p.Initialize(2)

			if err := p.SetDataBuffer(1); err != nil {
				t.Fatal(err)
			}
			p.ClearUpdates()
			p.SetPosition(0, 0, 1, 1)
			before := p.Updates()

			err := p.SetDataBuffer(9)
			if !errors.Is(err, test.target) || !errors.Is(err, test.cause) {
				t.Errorf("err = %v, want %v wrapping %v", err, test.target, test.cause)
			}
			if p.CurrentBuffer() != 1 {
				t.Errorf("CurrentBuffer() = %d, want 1", p.CurrentBuffer())
			}
			if p.Updates() != before {
				t.Errorf("Updates() = %v, want %v", p.Updates(), before)
			}
			if bm.locks != bm.unlocks {
				t.Errorf("locks = %d, unlocks = %d", bm.locks, bm.unlocks)
			}

			// the plane stays usable
			if err := p.SetDataBuffer(2); err != nil {
				t.Errorf("SetDataBuffer after failure: %v", err)
			}
		})
	}
}

func TestPlaneHookFailure(t *testing.T) {
	bm := newFakeBufferManager()
	errProgram := errors.New("stride not supported")
	fail := false
	p := newTestPlane(bm, WithDataBufferHook(func(m *Mapping) error {
		if fail {
			return errProgram
		}
		return nil
	}))
	p.Initialize(4)

	if err := p.SetDataBuffer(1); err != nil {
		t.Fatal(err)
	}
	p.ClearUpdates()

	fail = true
	if err := p.SetDataBuffer(2); !errors.Is(err, errProgram) {
		t.Errorf("err = %v, want %v", err, errProgram)
	}
	if p.CurrentBuffer() != 1 || p.CommitReady() {
		t.Errorf("failed hook changed state: buffer %d, updates %v", p.CurrentBuffer(), p.Updates())
	}
	if p.ActiveLen() != 1 {
		t.Errorf("ActiveLen() = %d, want 1", p.ActiveLen())
	}
}

func TestPlaneProtectedBuffer(t *testing.T) {
	bm := newFakeBufferManager()
	classifier := ProtectedFunc(func(buf DataBuffer) bool {
		return buf.Handle() == 7
	})
	p := newTestPlane(bm, WithProtectedClassifier(classifier))
	p.Initialize(2)

	if err := p.SetDataBuffer(7); err != nil {
		t.Fatal(err)
	}
	if !p.IsProtectedBuffer() {
		t.Error("protected buffer not reported")
	}
	if err := p.SetDataBuffer(8); err != nil {
		t.Fatal(err)
	}
	if p.IsProtectedBuffer() {
		t.Error("clear buffer reported protected")
	}
}

func TestPlaneEvictionKeepsActiveMappings(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)
	p.Initialize(2)

	for _, h := range []BufferHandle{1, 2, 3} {
		if err := p.SetDataBuffer(h); err != nil {
			t.Fatal(err)
		}
	}

	// inserting 3 into a full cache dropped the cache references of 1 and 2,
	// and admitting 3 retired 1 from the active set
	if p.CacheLen() != 1 || p.ActiveLen() != 2 {
		t.Fatalf("cache = %d, active = %d; want 1, 2", p.CacheLen(), p.ActiveLen())
	}
	if bm.releases[1] != 1 {
		t.Errorf("buffer 1 released %d times, want 1", bm.releases[1])
	}
	if bm.releases[2] != 0 {
		t.Error("buffer 2 released while still active")
	}
	if p.CurrentBuffer() != 3 {
		t.Errorf("CurrentBuffer() = %d, want 3", p.CurrentBuffer())
	}
}

func TestPlaneReturningBufferStaysMapped(t *testing.T) {
	bm := newFakeBufferManager()
	var programmed *Mapping
	p := newTestPlane(bm, WithDataBufferHook(func(m *Mapping) error {
		programmed = m
		return nil
	}))
	p.Initialize(2)

	// 3 drains the cache; 2 comes back while still active
	for _, h := range []BufferHandle{1, 2, 3, 2} {
		if err := p.SetDataBuffer(h); err != nil {
			t.Fatalf("SetDataBuffer(%d): %v", h, err)
		}
	}
	if bm.maps[2] != 1 {
		t.Errorf("buffer 2 mapped %d times, want 1", bm.maps[2])
	}
	if programmed != p.active.get(2) {
		t.Error("plane programmed a mapping the active set does not hold")
	}
	if programmed.Refs() != 2 {
		t.Errorf("buffer 2 refs = %d, want 2 (cache and active)", programmed.Refs())
	}

	// 4 drains the cache again and retires the oldest active buffer, 3
	shown := programmed
	if err := p.SetDataBuffer(4); err != nil {
		t.Fatal(err)
	}
	if bm.releases[2] != 0 || shown.Refs() != 1 {
		t.Errorf("buffer 2: releases = %d, refs = %d; want 0, 1", bm.releases[2], shown.Refs())
	}
	if bm.releases[3] != 1 {
		t.Errorf("buffer 3 released %d times, want 1", bm.releases[3])
	}
	if !p.active.contains(2) || !p.active.contains(4) {
		t.Error("active set does not hold the last two buffers")
	}

	p.Deinitialize()
	for key, n := range bm.maps {
		if bm.releases[key] != n {
			t.Errorf("buffer %d mapped %d times, released %d", key, n, bm.releases[key])
		}
	}
}

func TestPlaneReset(t *testing.T) {
	bm := newFakeBufferManager()
	fail := false
	p := newTestPlane(bm, WithDataBufferHook(func(*Mapping) error {
		if fail {
			return errors.New("rejected")
		}
		return nil
	}))
	p.Initialize(4)

	if err := p.SetDataBuffer(1); err != nil {
		t.Fatal(err)
	}
	fail = true
	_ = p.SetDataBuffer(2) // cached, never activated
	fail = false

	if p.CacheLen() != 2 || p.ActiveLen() != 1 {
		t.Fatalf("cache = %d, active = %d; want 2, 1", p.CacheLen(), p.ActiveLen())
	}

	p.Reset()
	if p.CacheLen() != 0 || p.ActiveLen() != 0 {
		t.Errorf("after Reset: cache = %d, active = %d", p.CacheLen(), p.ActiveLen())
	}
	if p.CurrentBuffer() != 0 {
		t.Errorf("CurrentBuffer() = %d after Reset", p.CurrentBuffer())
	}
	if !p.Initialized() {
		t.Error("Reset deinitialized the plane")
	}
	if bm.releases[1] != 1 || bm.releases[2] != 1 {
		t.Errorf("releases = %v, want each buffer released once", bm.releases)
	}

	// the same handle goes through the full pipeline again
	if err := p.SetDataBuffer(1); err != nil {
		t.Fatal(err)
	}
	if bm.maps[1] != 2 {
		t.Errorf("buffer 1 mapped %d times, want 2", bm.maps[1])
	}
}

func TestPlaneDeinitialize(t *testing.T) {
	bm := newFakeBufferManager()
	p := newTestPlane(bm)
	p.Initialize(3)

	for _, h := range []BufferHandle{1, 2, 3} {
		if err := p.SetDataBuffer(h); err != nil {
			t.Fatal(err)
		}
	}

	p.Deinitialize()
	if p.Initialized() {
		t.Error("plane still initialized")
	}
	if p.CacheLen() != 0 || p.ActiveLen() != 0 || p.CurrentBuffer() != 0 {
		t.Errorf("cache = %d, active = %d, buffer = %d", p.CacheLen(), p.ActiveLen(), p.CurrentBuffer())
	}
	for h := BufferKey(1); h <= 3; h++ {
		if bm.releases[h] != 1 {
			t.Errorf("buffer %d released %d times, want 1", h, bm.releases[h])
		}
	}

	unmaps := bm.totalUnmaps()
	p.Deinitialize()
	if bm.totalUnmaps() != unmaps {
		t.Error("second Deinitialize unmapped again")
	}
}

func TestPlaneAssignToDevice(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())
	p.Initialize(2)

	if err := p.AssignToDevice(1); err != nil {
		t.Fatal(err)
	}
	if p.Device() != 1 {
		t.Errorf("Device() = %d, want 1", p.Device())
	}
}

func TestPlaneCheckPosition(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())

	tests := []struct {
		in, want Rect
	}{
		{Rect{X: 0, Y: 0, W: 100, H: 100}, Rect{X: 0, Y: 0, W: 100, H: 100}},
		{Rect{X: -10, Y: -20, W: 100, H: 100}, Rect{X: 0, Y: 0, W: 100, H: 100}},
		{Rect{X: 1900, Y: 0, W: 100, H: 100}, Rect{X: 1900, Y: 0, W: 20, H: 100}},
		{Rect{X: 0, Y: 1000, W: 100, H: 200}, Rect{X: 0, Y: 1000, W: 100, H: 80}},
		{Rect{X: 0, Y: 0, W: 1920, H: 1080}, Rect{X: 0, Y: 0, W: 1920, H: 1080}},
	}
	for _, test := range tests {
		if got := p.CheckPosition(test.in); got != test.want {
			t.Errorf("CheckPosition(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestPlaneCheckPositionWithoutMode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := NewPlane(0, PlanePrimary, 3, newFakeBufferManager(), fakeModes{}, WithLogger(logger))
	r := Rect{X: -5, Y: -5, W: 5000, H: 5000}
	if got := p.CheckPosition(r); got != r {
		t.Errorf("CheckPosition(%v) = %v, want it unchanged", r, got)
	}
	if !strings.Contains(buf.String(), "failed to get mode info") {
		t.Errorf("missing warning, log: %q", buf.String())
	}

	p = NewPlane(0, PlanePrimary, 0, newFakeBufferManager(), nil)
	if got := p.CheckPosition(r); got != r {
		t.Errorf("CheckPosition without modes = %v, want it unchanged", got)
	}
}

func TestPlaneZOrder(t *testing.T) {
	p := newTestPlane(newFakeBufferManager())
	p.SetZOrder(3)
	if p.ZOrder() != 3 {
		t.Errorf("ZOrder() = %d, want 3", p.ZOrder())
	}
}
