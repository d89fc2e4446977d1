package types

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators. One JSON object per frame, discriminated by
// the "type" field. Anything outside this set is a protocol error.
const (
	FrameAuth             = "auth"
	FrameAuthSuccess      = "auth_success"
	FrameGetHistory       = "get_history"
	FrameMessageHistory   = "message_history"
	FrameMessage          = "message"
	FrameMessageBatch     = "message_batch"
	FrameTyping           = "typing"
	FramePing             = "ping"
	FramePong             = "pong"
	FrameConnectionCount  = "connection_count"
	FrameConnectionStatus = "connection_status"
	FrameError            = "error"
)

// Frame is one decoded client frame. The set of implementations is closed;
// DecodeFrame rejects every type outside it.
type Frame interface {
	FrameType() string
}

// AuthFrame carries a signed token plus the identity the client claims.
type AuthFrame struct {
	AuthToken string `json:"authToken"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

func (f *AuthFrame) FrameType() string { return FrameAuth }

// GetHistoryFrame requests a history snapshot. Credentials are optional
// and only present when a client re-sends them after reconnect.
type GetHistoryFrame struct {
	AuthToken string `json:"authToken,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
}

func (f *GetHistoryFrame) FrameType() string { return FrameGetHistory }

// MessageFrame is an inbound chat message with the sender's claimed identity.
type MessageFrame struct {
	Content string `json:"content"`
	User    string `json:"user"`
}

func (f *MessageFrame) FrameType() string { return FrameMessage }

// TypingFrame is an advisory typing notification.
type TypingFrame struct {
	User string `json:"user"`
}

func (f *TypingFrame) FrameType() string { return FrameTyping }

// PingFrame and PongFrame implement the application-level health check.
type PingFrame struct{}

func (f *PingFrame) FrameType() string { return FramePing }

type PongFrame struct{}

func (f *PongFrame) FrameType() string { return FramePong }

// DecodeFrame parses one wire frame into its tagged variant.
// Unknown types and malformed JSON fail with the sentinel errors so the
// caller can treat both as protocol errors without inspecting the payload.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var frame Frame
	switch head.Type {
	case FrameAuth:
		frame = &AuthFrame{}
	case FrameGetHistory:
		frame = &GetHistoryFrame{}
	case FrameMessage:
		frame = &MessageFrame{}
	case FrameTyping:
		frame = &TypingFrame{}
	case FramePing:
		frame = &PingFrame{}
	case FramePong:
		frame = &PongFrame{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, head.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// Server-to-client frames. Each constructor stamps the type field so
// encoders never emit an untagged frame.

type AuthSuccessFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

func NewAuthSuccess(username string) *AuthSuccessFrame {
	return &AuthSuccessFrame{Type: FrameAuthSuccess, Username: username}
}

type ServerMessageFrame struct {
	Type string `json:"type"`
	Message
}

func NewServerMessage(msg Message) *ServerMessageFrame {
	msg.RoomID = ""
	return &ServerMessageFrame{Type: FrameMessage, Message: msg}
}

type MessageBatchFrame struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

func NewMessageBatch(msgs []Message) *MessageBatchFrame {
	return &MessageBatchFrame{Type: FrameMessageBatch, Messages: msgs}
}

type MessageHistoryFrame struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

func NewMessageHistory(msgs []Message) *MessageHistoryFrame {
	return &MessageHistoryFrame{Type: FrameMessageHistory, Messages: msgs}
}

type ServerTypingFrame struct {
	Type string `json:"type"`
	User string `json:"user"`
}

func NewTyping(user string) *ServerTypingFrame {
	return &ServerTypingFrame{Type: FrameTyping, User: user}
}

type ServerPingFrame struct {
	Type string `json:"type"`
}

func NewPing() *ServerPingFrame { return &ServerPingFrame{Type: FramePing} }

type ServerPongFrame struct {
	Type string `json:"type"`
}

func NewPong() *ServerPongFrame { return &ServerPongFrame{Type: FramePong} }

type ConnectionCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func NewConnectionCount(count int) *ConnectionCountFrame {
	return &ConnectionCountFrame{Type: FrameConnectionCount, Count: count}
}

type ConnectionStatusFrame struct {
	Type            string `json:"type"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	ConnectionCount int    `json:"connectionCount"`
}

func NewConnectionStatus(status, message string, count int) *ConnectionStatusFrame {
	return &ConnectionStatusFrame{
		Type:            FrameConnectionStatus,
		Status:          status,
		Message:         message,
		ConnectionCount: count,
	}
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: FrameError, Message: message}
}
