package wlplane

// DataBuffer is a locked buffer as seen by a plane
type DataBuffer interface {
	Handle() BufferHandle
	Key() BufferKey
	SetCrop(Rect)
}

// BufferManager resolves handles to buffers and maps them for scanout.
// It may be shared by several planes and must do its own locking.
type BufferManager interface {
	// LockDataBuffer resolves a handle. Every successful lock is paired
	// with UnlockDataBuffer.
	LockDataBuffer(h BufferHandle) (DataBuffer, error)
	UnlockDataBuffer(buf DataBuffer)

	// Map produces a mapping holding one reference.
	Map(buf DataBuffer) (*Mapping, error)

	// Unmap drops one reference from m and releases it at zero.
	Unmap(m *Mapping)
}

// ModeInfo is the geometry of the mode currently driven on a device
type ModeInfo struct {
	Width   int
	Height  int
	Refresh int // mHz
}

// ModeQuerier reports the current mode of a display device
type ModeQuerier interface {
	ModeInfo(device int) (ModeInfo, error)
}

// ProtectedClassifier tells whether a buffer carries protected content
type ProtectedClassifier interface {
	IsProtected(buf DataBuffer) bool
}

// ProtectedFunc adapts a function to ProtectedClassifier
type ProtectedFunc func(buf DataBuffer) bool

// IsProtected calls f(buf)
func (f ProtectedFunc) IsProtected(buf DataBuffer) bool {
	return f(buf)
}

var neverProtected = ProtectedFunc(func(DataBuffer) bool { return false })
