package store

import "errors"

var (
	ErrClosed       = errors.New("store is closed")
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("room not found")
)
