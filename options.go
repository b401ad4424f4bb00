package wlplane

import "log/slog"

// PlaneOption configures a Plane at creation.
//
// Example:
//
//	p := wlplane.NewPlane(0, wlplane.PlaneOverlay, 0, bm, modes,
//	    wlplane.WithProtectedClassifier(bm),
//	    wlplane.WithLogger(slog.Default()))
type PlaneOption func(*planeOptions)

type planeOptions struct {
	classifier ProtectedClassifier
	hook       func(*Mapping) error
	logger     *slog.Logger
}

func defaultPlaneOptions() planeOptions {
	return planeOptions{
		classifier: neverProtected,
	}
}

// WithProtectedClassifier sets the classifier consulted on every buffer
// change. Without it no buffer is treated as protected.
func WithProtectedClassifier(c ProtectedClassifier) PlaneOption {
	return func(o *planeOptions) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithDataBufferHook installs the plane type specific step that programs
// a resolved mapping into the plane. An error from fn fails SetDataBuffer
// and leaves the bound buffer and update mask as they were.
func WithDataBufferHook(fn func(*Mapping) error) PlaneOption {
	return func(o *planeOptions) {
		o.hook = fn
	}
}

// WithLogger overrides the package logger for one plane.
func WithLogger(l *slog.Logger) PlaneOption {
	return func(o *planeOptions) {
		o.logger = l
	}
}
