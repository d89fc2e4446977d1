package types

import (
	"time"
)

// User is a chat identity backed by a durable record. Usernames are unique.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room is a logical chat channel. LastActivity is monotonically
// non-decreasing and updated on every accepted message.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Message is an accepted chat message. Immutable after creation;
// persisted exactly once before any broadcast.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId,omitempty"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
