package sstv

import "errors"

// Errors returned by the encoder and decoder. Callers compare with errors.Is;
// most are wrapped with context about where the failure occurred.
var (
	// ErrInvalidImageDimensions is returned when an image does not match the
	// mode's resolution.
	ErrInvalidImageDimensions = errors.New("sstv: invalid image dimensions")

	// ErrUnsupportedPixelFormat is returned for images without colour data.
	ErrUnsupportedPixelFormat = errors.New("sstv: unsupported pixel format")

	// ErrInvalidHeader is returned when a VIS header was found but its timing,
	// start/stop bits or parity are wrong, or it names an unknown mode.
	ErrInvalidHeader = errors.New("sstv: invalid VIS header")

	// ErrSyncLost marks a single line whose sync pulse could not be located.
	// It is reported per line and never aborts a decode on its own.
	ErrSyncLost = errors.New("sstv: sync lost")

	// ErrNoSignalDetected is returned when no VIS header is acquired before the
	// search timeout or the end of the stream.
	ErrNoSignalDetected = errors.New("sstv: no signal detected")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("sstv: invalid config")
)
