package gateway

import "errors"

var (
	// ErrTransport indicates a device-level failure while sending or receiving.
	ErrTransport = errors.New("transport failure")
	// ErrPayloadTooLarge indicates a payload that does not fit into one SMS. The device was not touched.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrBusy indicates a failed non-blocking attempt to acquire the transport.
	ErrBusy = errors.New("transport busy")
	// ErrLockTimeout indicates a blocking acquisition that was given up before the transport became free.
	ErrLockTimeout = errors.New("transport lock timeout")
)
