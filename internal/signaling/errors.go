package signaling

import "errors"

var (
	ErrClosed           = errors.New("signaling: session closed")
	ErrChannelClosed    = errors.New("signaling: channel closed")
	ErrNoTransport      = errors.New("signaling: no transport available")
	ErrUnavailable      = errors.New("signaling: transport unavailable")
	ErrSendQueueFull    = errors.New("signaling: send queue full")
	ErrEmptyPayload     = errors.New("signaling: empty payload")
	ErrUnknownTransport = errors.New("signaling: unknown transport")
)
