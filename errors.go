package movehub

import "errors"

var (
	// ErrShutdown is returned by any blocked call when the hub powers off
	// or the connection is closed.
	ErrShutdown = errors.New("hub shutdown")

	// ErrTruncated indicates a frame shorter than its declared length.
	ErrTruncated = errors.New("truncated frame")

	// ErrMalformedFrame indicates a frame whose declared length does not
	// match its size, or whose payload cannot be parsed.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrDeviceNotReady is returned when no device of the expected kind
	// shows up on the expected port within the caller's deadline. Hub
	// topology is discovered asynchronously after connecting, so this
	// usually means the wait was too short or nothing is plugged in.
	ErrDeviceNotReady = errors.New("device not ready")
)
