package wlplane

import "fmt"

// MinDataBufferCount is the smallest buffer cache a plane will run with.
// It is also the fixed capacity of the active set.
const MinDataBufferCount = 2

// BufferHandle identifies a buffer as handed over by the compositor.
// Zero is never a valid handle.
type BufferHandle uint32

// InvalidHandle is never a valid buffer
const InvalidHandle BufferHandle = 0

// BufferKey identifies the underlying buffer storage. Two handles that
// reference the same storage share a key.
type BufferKey uint64

// Rect is a position or source crop rectangle
type Rect struct {
	X, Y int
	W, H int
}

// Equal reports whether both rectangles hold the same values
func (r Rect) Equal(o Rect) bool {
	return r == o
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d %dx%d", r.X, r.Y, r.W, r.H)
}

// Transform is the rotation applied to a plane, in degrees.
type Transform int

// Plane transforms
const (
	Transform0   Transform = 0
	Transform90  Transform = 90
	Transform180 Transform = 180
	Transform270 Transform = 270
)

// NormalizeTransform maps an arbitrary rotation request to a supported
// transform. Anything other than 90, 180 or 270 becomes Transform0.
func NormalizeTransform(deg int) Transform {
	switch Transform(deg) {
	case Transform90, Transform180, Transform270:
		return Transform(deg)
	default:
		return Transform0
	}
}

// PlaneType describes what kind of hardware plane a Plane drives
type PlaneType int

// Plane types
const (
	PlaneSprite PlaneType = iota
	PlaneOverlay
	PlanePrimary
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlaneSprite:
		return "sprite"
	case PlaneOverlay:
		return "overlay"
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	default:
		return fmt.Sprintf("PlaneType(%d)", int(t))
	}
}
