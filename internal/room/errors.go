package room

import "errors"

var (
	ErrConnectionLimit = errors.New("too many connections from this address")
	ErrRoomClosed      = errors.New("room is closed")
)

// Error messages sent to clients in error frames. Internal detail never
// leaks through these.
const (
	msgAuthFailed      = "authentication failed: invalid or expired token"
	msgAuthMismatch    = "authentication failed: token identity mismatch"
	msgRateLimited     = "rate limit exceeded: too many messages, slow down"
	msgStorageFailed   = "message could not be stored, please retry"
	msgInvalidMessage  = "message rejected: "
	msgMissingUser     = "message rejected: user is required"
	msgMissingContent  = "message rejected: content is required"
	statusConnected    = "connected"
	statusConnectedMsg = "connected to room"
)
