package types

import "errors"

// Frame decoding errors. Both are protocol errors: the frame is dropped
// and the connection stays open.
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)
