package client

import "errors"

var (
	// ErrNotOpen is returned by Send when no socket is open.
	ErrNotOpen = errors.New("session not open")

	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("session closed")
)
