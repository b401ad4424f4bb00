package wlplane

import "errors"

var (
	// ErrNotInitialized is returned when a resource owning operation runs
	// before Initialize or after Deinitialize.
	ErrNotInitialized = errors.New("wlplane: plane not initialized")

	// ErrInvalidHandle is returned for a zero buffer handle
	ErrInvalidHandle = errors.New("wlplane: invalid buffer handle")

	// ErrBufferLockFailed is returned when a handle cannot be resolved to a buffer
	ErrBufferLockFailed = errors.New("wlplane: failed to lock buffer")

	// ErrMapFailed is returned when a buffer cannot be mapped for the plane
	ErrMapFailed = errors.New("wlplane: failed to map buffer")

	// ErrModeUnavailable is returned by a ModeQuerier that has no mode for a device
	ErrModeUnavailable = errors.New("wlplane: mode info unavailable")
)
