package monitor

import "errors"

var (
	// ErrNetwork marks a failed upstream fetch. It is always retryable and
	// never mutates state.
	ErrNetwork          = errors.New("network error")
	ErrNotFound         = errors.New("channel not found")
	ErrNotConnected     = errors.New("channel not connected")
	ErrMalformedMessage = errors.New("malformed push message")
	ErrClosed           = errors.New("monitor closed")
	ErrUnknownPlatform  = errors.New("unknown platform")
)
