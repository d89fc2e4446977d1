package auth

import "errors"

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrEmptyIdentity = errors.New("identity requires user id and username")
)
