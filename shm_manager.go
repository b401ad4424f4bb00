//go:build linux
// +build linux

package wlplane

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"golang.org/x/sys/unix"
)

// ShmBufferManager is a BufferManager for shm buffers. Each Map creates
// a read-only shared mapping of the buffer's pool, released when the
// last reference to the Mapping is dropped.
//
// It is safe for concurrent use, so several planes can share one.
type ShmBufferManager struct {
	mu        sync.Mutex
	next      BufferHandle
	buffers   map[BufferHandle]*ShmBuffer
	protected map[BufferHandle]bool
	locked    int
	mapped    int
}

// NewShmBufferManager returns an empty manager
func NewShmBufferManager() *ShmBufferManager {
	return &ShmBufferManager{
		buffers:   make(map[BufferHandle]*ShmBuffer),
		protected: make(map[BufferHandle]bool),
	}
}

// Register makes b reachable by handle
func (m *ShmBufferManager) Register(b *ShmBuffer) BufferHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.handle != 0 {
		if _, ok := m.buffers[b.handle]; ok {
			return b.handle
		}
	}
	m.next++
	b.handle = m.next
	m.buffers[b.handle] = b
	return b.handle
}

// Unregister forgets a handle. Existing mappings are not affected.
func (m *ShmBufferManager) Unregister(h BufferHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, h)
	delete(m.protected, h)
}

// SetProtected flags a buffer as carrying protected content
func (m *ShmBufferManager) SetProtected(h BufferHandle, protected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if protected {
		m.protected[h] = true
	} else {
		delete(m.protected, h)
	}
}

// IsProtected implements ProtectedClassifier
func (m *ShmBufferManager) IsProtected(buf DataBuffer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protected[buf.Handle()]
}

// LockDataBuffer implements BufferManager
func (m *ShmBufferManager) LockDataBuffer(h BufferHandle) (DataBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[h]
	if !ok {
		return nil, fmt.Errorf("shm: unknown handle %#x", uint32(h))
	}
	m.locked++
	return b, nil
}

// UnlockDataBuffer implements BufferManager
func (m *ShmBufferManager) UnlockDataBuffer(DataBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked--
}

// Map implements BufferManager. Only formats with a GPU texture
// equivalent can be mapped for scanout.
func (m *ShmBufferManager) Map(buf DataBuffer) (*Mapping, error) {
	b, ok := buf.(*ShmBuffer)
	if !ok {
		return nil, fmt.Errorf("shm: cannot map %T", buf)
	}
	if b.pool.fd < 0 {
		return nil, errPoolClosed
	}
	if b.format.TextureFormat() == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("shm: format %#x: %w", uint32(b.format), errUnsupportedFormat)
	}

	data, err := MapMemory(b.pool.fd, b.pool.size, unix.PROT_READ)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	m.mu.Lock()
	m.mapped++
	m.mu.Unlock()

	sm := &ShmMapping{
		manager: m,
		region:  data,
		data:    data[b.offset : b.offset+b.Size()],
		width:   b.width,
		height:  b.height,
		stride:  b.stride,
		format:  b.format,
	}
	return NewMapping(b.Key(), sm), nil
}

// Unmap implements BufferManager
func (m *ShmBufferManager) Unmap(mp *Mapping) {
	if mp == nil {
		return
	}
	if _, err := mp.Unmap(); err != nil {
		Logger().Warn("shm: failed to unmap buffer", "key", mp.Key(), "err", err)
	}
}

// Mapped returns the number of live OS mappings
func (m *ShmBufferManager) Mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped
}

// Locked returns the number of outstanding locks
func (m *ShmBufferManager) Locked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// ShmMapping is the binding of a mapped shm buffer
type ShmMapping struct {
	manager *ShmBufferManager
	region  []byte
	data    []byte
	width   int
	height  int
	stride  int
	format  ShmFormat
}

// Data returns the buffer's bytes. It is nil once released.
func (s *ShmMapping) Data() []byte { return s.data }

// Stride returns the row pitch in bytes
func (s *ShmMapping) Stride() int { return s.stride }

// Size returns the dimensions in pixels
func (s *ShmMapping) Size() (width, height int) { return s.width, s.height }

// Format returns the pixel format
func (s *ShmMapping) Format() ShmFormat { return s.format }

// TextureFormat returns the GPU format to import the mapping with
func (s *ShmMapping) TextureFormat() gputypes.TextureFormat {
	return s.format.TextureFormat()
}

// Release implements Binding
func (s *ShmMapping) Release() error {
	if s.region == nil {
		return nil
	}
	err := UnmapMemory(s.region)
	s.region = nil
	s.data = nil

	s.manager.mu.Lock()
	s.manager.mapped--
	s.manager.mu.Unlock()
	return err
}
