// Package client implements the connection session a chat client keeps
// per room view: one live socket at most, automatic reconnect after an
// unclean close, and credential replay on every successful open.
package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/pkg/types"
)

// State names the session's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultRetryDelay is the fixed pause before a reconnect attempt.
const DefaultRetryDelay = 3 * time.Second

const frameBuffer = 64

// Credentials carries the signed identity replayed on each open.
type Credentials struct {
	AuthToken string
	UserID    string
	Username  string
}

// ServerFrame is one inbound frame, decoded only as far as its
// discriminator; the payload stays raw for the consumer.
type ServerFrame struct {
	Type string
	Data json.RawMessage
}

// DialFunc opens a websocket to the configured URL.
type DialFunc func(url string) (*websocket.Conn, error)

func defaultDial(url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// Config configures a Session.
type Config struct {
	URL        string
	RetryDelay time.Duration
	Dial       DialFunc
}

// Session maintains at most one live connection per room view. An
// unclean close schedules exactly one reconnect after the retry delay;
// duplicate connect attempts while one is in flight are suppressed.
type Session struct {
	url        string
	retryDelay time.Duration
	dial       DialFunc

	frames chan ServerFrame

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	writeMu      sync.Mutex
	creds        *Credentials
	historyToken string
	retryTimer   *time.Timer
	gen          int
}

// NewSession creates an idle session. Call Connect to open it.
func NewSession(cfg Config) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	return &Session{
		url:        cfg.URL,
		retryDelay: cfg.RetryDelay,
		dial:       cfg.Dial,
		frames:     make(chan ServerFrame, frameBuffer),
		state:      StateIdle,
	}
}

// SetCredentials stores the identity sent on each successful open. A
// new token re-enables the one-shot history request.
func (s *Session) SetCredentials(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames delivers inbound server frames. Pings are answered internally
// and not delivered. Frames are dropped when the consumer lags.
func (s *Session) Frames() <-chan ServerFrame {
	return s.frames
}

// Connect opens the session. It is a no-op while a connection or
// connect attempt is already live.
func (s *Session) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateConnecting, StateOpen:
		s.mu.Unlock()
		return nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	go s.runConnect(gen)
	return nil
}

func (s *Session) runConnect(gen int) {
	conn, err := s.dial(s.url)

	s.mu.Lock()
	if s.state == StateClosed || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Printf("client: dial %s failed: %v", s.url, err)
		s.scheduleRetryLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.state = StateOpen

	creds := s.creds
	sendHistory := creds != nil && creds.AuthToken != s.historyToken
	if sendHistory {
		s.historyToken = creds.AuthToken
	}
	s.mu.Unlock()

	if creds != nil {
		s.write(map[string]string{
			"type":      types.FrameAuth,
			"authToken": creds.AuthToken,
			"userId":    creds.UserID,
			"username":  creds.Username,
		})
		if sendHistory {
			s.write(map[string]string{"type": types.FrameGetHistory})
		}
	}

	s.readLoop(conn, gen)
}

// Send writes one frame without blocking on connection state; when the
// socket is not open it surfaces a local error and drops the frame.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.mu.Unlock()

	return s.write(v)
}

func (s *Session) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	return conn.WriteJSON(v)
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, gen, err)
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr != nil || envelope.Type == "" {
			log.Printf("client: dropped malformed frame: %s", data)
			continue
		}

		if envelope.Type == types.FramePing {
			s.write(map[string]string{"type": types.FramePong})
			continue
		}

		select {
		case s.frames <- ServerFrame{Type: envelope.Type, Data: data}:
		default:
			log.Printf("client: frame buffer full, dropped %s", envelope.Type)
		}
	}
}

// handleClose schedules a single reconnect unless the close was clean
// or the session itself was closed.
func (s *Session) handleClose(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || gen != s.gen {
		return
	}
	s.conn = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.state = StateIdle
		return
	}

	log.Printf("client: connection lost: %v", err)
	s.scheduleRetryLocked()
}

// scheduleRetryLocked arms the retry timer. The state guard means at
// most one timer exists at a time.
func (s *Session) scheduleRetryLocked() {
	s.state = StateReconnecting
	gen := s.gen
	s.retryTimer = time.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		if s.state != StateReconnecting || gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.retryTimer = nil
		s.state = StateConnecting
		s.mu.Unlock()
		s.runConnect(gen)
	})
}

// Close ends the session for good; no reconnect follows.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
