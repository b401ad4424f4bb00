//go:build linux
// +build linux

package wlplane

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"golang.org/x/sys/unix"
)

// ShmFormat is a wl_shm pixel format
type ShmFormat uint32

// Wayland pixel formats
const (
	// 32-bit formats
	FormatARGB8888 ShmFormat = 0
	FormatXRGB8888 ShmFormat = 1

	// 24-bit formats
	FormatRGB888 ShmFormat = 0x34324752 // 'RG24'
	FormatBGR888 ShmFormat = 0x34324742 // 'BG24'

	// 16-bit formats
	FormatRGB565   ShmFormat = 0x36314752 // 'RG16'
	FormatXRGB1555 ShmFormat = 0x35315258 // 'XR15'

	// 8-bit formats
	FormatY8 ShmFormat = 0x20203859 // 'Y8  '
)

// BytesPerPixel returns the pixel size of the format
func (f ShmFormat) BytesPerPixel() int {
	switch f {
	case FormatARGB8888, FormatXRGB8888:
		return 4
	case FormatRGB888, FormatBGR888:
		return 3
	case FormatRGB565, FormatXRGB1555:
		return 2
	case FormatY8:
		return 1
	default:
		return 4
	}
}

// TextureFormat returns the GPU texture format with the same memory
// layout, or TextureFormatUndefined when no such format exists.
// Wayland formats are little endian, so ARGB8888 is stored as B, G, R, A.
func (f ShmFormat) TextureFormat() gputypes.TextureFormat {
	switch f {
	case FormatARGB8888, FormatXRGB8888:
		return gputypes.TextureFormatBGRA8Unorm
	case FormatY8:
		return gputypes.TextureFormatR8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

var poolSerial atomic.Uint32

// ShmPool is a shared memory file that buffers are carved from
type ShmPool struct {
	serial uint32
	fd     int
	size   int
	data   []byte
	offset int
}

// CreateShmPool creates a pool of size bytes, mapped for writing
func CreateShmPool(size int) (*ShmPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	fd, err := CreateAnonymousFile(int64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous file: %w", err)
	}

	data, err := MapMemory(fd, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memory: %w", err)
	}

	return &ShmPool{
		serial: poolSerial.Add(1),
		fd:     fd,
		size:   size,
		data:   data,
	}, nil
}

// Close unmaps the pool and closes its file. Mappings made from the pool
// stay valid until they are released.
func (p *ShmPool) Close() error {
	if p.data != nil {
		if err := UnmapMemory(p.data); err != nil {
			return err
		}
		p.data = nil
	}
	if p.fd >= 0 {
		if err := unix.Close(p.fd); err != nil {
			return err
		}
		p.fd = -1
	}
	return nil
}

// Data returns the writable view of the pool
func (p *ShmPool) Data() []byte {
	return p.data
}

// FD returns the file descriptor, -1 once closed
func (p *ShmPool) FD() int {
	return p.fd
}

// Size returns the pool size
func (p *ShmPool) Size() int {
	return p.size
}

// ShmBuffer is a buffer allocated from a pool
type ShmBuffer struct {
	pool   *ShmPool
	offset int
	width  int
	height int
	stride int
	format ShmFormat

	handle BufferHandle
	crop   Rect
}

// AllocateBuffer carves a buffer from the pool. Buffers start on 64 byte
// boundaries.
func (p *ShmPool) AllocateBuffer(width, height, stride int, format ShmFormat) (*ShmBuffer, error) {
	if width <= 0 || height <= 0 || stride < width*format.BytesPerPixel() {
		return nil, fmt.Errorf("invalid buffer geometry %dx%d stride %d", width, height, stride)
	}
	size := height * stride
	if p.offset+size > p.size {
		return nil, fmt.Errorf("insufficient space in pool: need %d, have %d", size, p.size-p.offset)
	}

	b := &ShmBuffer{
		pool:   p,
		offset: p.offset,
		width:  width,
		height: height,
		stride: stride,
		format: format,
		crop:   Rect{W: width, H: height},
	}

	p.offset += size
	p.offset += (64 - p.offset%64) % 64
	return b, nil
}

// Data returns the buffer's bytes in the pool's writable view
func (b *ShmBuffer) Data() []byte {
	if b.pool.data == nil {
		return nil
	}
	return b.pool.data[b.offset : b.offset+b.Size()]
}

// Offset returns the buffer's offset in the pool
func (b *ShmBuffer) Offset() int { return b.offset }

// Size returns the buffer size in bytes
func (b *ShmBuffer) Size() int { return b.height * b.stride }

// Width returns the width in pixels
func (b *ShmBuffer) Width() int { return b.width }

// Height returns the height in pixels
func (b *ShmBuffer) Height() int { return b.height }

// Stride returns the row pitch in bytes
func (b *ShmBuffer) Stride() int { return b.stride }

// Format returns the pixel format
func (b *ShmBuffer) Format() ShmFormat { return b.format }

// Handle returns the handle given by ShmBufferManager.Register, 0 before
func (b *ShmBuffer) Handle() BufferHandle { return b.handle }

// Key identifies the buffer's storage: its pool and offset.
func (b *ShmBuffer) Key() BufferKey {
	return BufferKey(uint64(b.pool.serial)<<32 | uint64(b.offset))
}

// SetCrop records the source crop
func (b *ShmBuffer) SetCrop(r Rect) { b.crop = r }

// Crop returns the source crop
func (b *ShmBuffer) Crop() Rect { return b.crop }

var (
	errPoolClosed        = errors.New("shm pool closed")
	errUnsupportedFormat = errors.New("no texture format for scanout")
)
