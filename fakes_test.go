package wlplane

import (
	"errors"
	"fmt"
)

var (
	errFakeLock = errors.New("no such buffer")
	errFakeMap  = errors.New("out of aperture")
)

type fakeBuffer struct {
	handle BufferHandle
	key    BufferKey
	crop   Rect
}

func (b *fakeBuffer) Handle() BufferHandle { return b.handle }
func (b *fakeBuffer) Key() BufferKey       { return b.key }
func (b *fakeBuffer) SetCrop(r Rect)       { b.crop = r }

type fakeBinding struct {
	bm  *fakeBufferManager
	key BufferKey
}

func (f *fakeBinding) Release() error {
	f.bm.releases[f.key]++
	return nil
}

// fakeBufferManager maps handle N to key N unless told otherwise and
// counts every call per key.
type fakeBufferManager struct {
	keys     map[BufferHandle]BufferKey
	lockFail map[BufferHandle]bool
	mapFail  map[BufferKey]bool

	locks    int
	unlocks  int
	maps     map[BufferKey]int
	unmaps   map[BufferKey]int
	releases map[BufferKey]int
}

func newFakeBufferManager() *fakeBufferManager {
	return &fakeBufferManager{
		keys:     make(map[BufferHandle]BufferKey),
		lockFail: make(map[BufferHandle]bool),
		mapFail:  make(map[BufferKey]bool),
		maps:     make(map[BufferKey]int),
		unmaps:   make(map[BufferKey]int),
		releases: make(map[BufferKey]int),
	}
}

func (bm *fakeBufferManager) LockDataBuffer(h BufferHandle) (DataBuffer, error) {
	if bm.lockFail[h] {
		return nil, errFakeLock
	}
	bm.locks++
	key, ok := bm.keys[h]
	if !ok {
		key = BufferKey(h)
	}
	return &fakeBuffer{handle: h, key: key}, nil
}

func (bm *fakeBufferManager) UnlockDataBuffer(DataBuffer) {
	bm.unlocks++
}

func (bm *fakeBufferManager) Map(buf DataBuffer) (*Mapping, error) {
	if bm.mapFail[buf.Key()] {
		return nil, errFakeMap
	}
	bm.maps[buf.Key()]++
	return NewMapping(buf.Key(), &fakeBinding{bm: bm, key: buf.Key()}), nil
}

func (bm *fakeBufferManager) Unmap(m *Mapping) {
	bm.unmaps[m.Key()]++
	if _, err := m.Unmap(); err != nil {
		panic(err)
	}
}

func (bm *fakeBufferManager) totalUnmaps() int {
	n := 0
	for _, c := range bm.unmaps {
		n += c
	}
	return n
}

type fakeModes map[int]ModeInfo

func (f fakeModes) ModeInfo(device int) (ModeInfo, error) {
	m, ok := f[device]
	if !ok {
		return ModeInfo{}, fmt.Errorf("device %d: %w", device, ErrModeUnavailable)
	}
	return m, nil
}
