package websocket

import "errors"

var (
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout is returned when the outbound buffer stays full.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrInvalidJSON is returned when an outbound frame cannot be encoded.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)
