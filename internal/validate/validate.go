// Package validate screens inbound message and username text before a room
// accepts it. Input that changes under sanitization is evidence of
// disallowed markup and is rejected outright, never auto-corrected.
package validate

import (
	"fmt"

	"github.com/microcosm-cc/bluemonday"
)

// Fixed maximums, measured in bytes.
const (
	MaxContentLength  = 1000
	MaxUsernameLength = 50
)

// Strict policy: no HTML elements or attributes survive.
var policy = bluemonday.StrictPolicy()

// Sanitize strips all markup from s. Idempotent.
func Sanitize(s string) string {
	return policy.Sanitize(s)
}

// Content checks a message body. Returns nil when the content is
// non-empty, within the length cap, and unchanged by sanitization.
func Content(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("%w: limit %d bytes", ErrContentTooLong, MaxContentLength)
	}
	if Sanitize(content) != content {
		return fmt.Errorf("%w: content", ErrDisallowedMarkup)
	}
	return nil
}

// Username checks a claimed username under the same rules as Content,
// with the tighter username cap.
func Username(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: limit %d bytes", ErrUsernameTooLong, MaxUsernameLength)
	}
	if Sanitize(username) != username {
		return fmt.Errorf("%w: username", ErrDisallowedMarkup)
	}
	return nil
}

// Message checks both fields of an inbound chat message.
func Message(content, username string) error {
	if err := Content(content); err != nil {
		return err
	}
	return Username(username)
}
