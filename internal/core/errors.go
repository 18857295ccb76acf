// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	// Capture open errors
	ErrPermissionDenied  = errors.New("netdash: permission denied")
	ErrInterfaceNotFound = errors.New("netdash: interface not found")
	ErrAlreadyOpen       = errors.New("netdash: capture handle already open")

	// Capture stream errors
	ErrCaptureInterrupted = errors.New("netdash: capture interrupted")
	ErrCaptureUnavailable = errors.New("netdash: capture unavailable")
	ErrHandleClosed       = errors.New("netdash: capture handle closed")

	// Packet decoding errors
	ErrPacketTooShort      = errors.New("netdash: packet too short")
	ErrInvalidHeader       = errors.New("netdash: invalid header")
	ErrUnsupportedLinkType = errors.New("netdash: unsupported link type")

	// Configuration errors
	ErrConfigInvalid = errors.New("netdash: invalid configuration")

	// Engine lifecycle errors
	ErrAlreadyRunning = errors.New("netdash: engine already running")
	ErrNotRunning     = errors.New("netdash: engine not running")
)
