package validate

import "errors"

var (
	ErrEmptyContent     = errors.New("message content is required")
	ErrEmptyUsername    = errors.New("username is required")
	ErrContentTooLong   = errors.New("message content too long")
	ErrUsernameTooLong  = errors.New("username too long")
	ErrDisallowedMarkup = errors.New("disallowed markup")
)
