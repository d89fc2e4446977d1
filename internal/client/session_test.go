package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatServer accepts websocket connections and records every frame
// each connection sends, so tests can assert on the replay behavior.
type fakeChatServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []map[string]string
	dials    int
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	t.Helper()
	fs := &fakeChatServer{}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.dials++
		fs.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]string
			if json.Unmarshal(data, &frame) == nil {
				fs.mu.Lock()
				fs.received = append(fs.received, frame)
				fs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeChatServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func (fs *fakeChatServer) dialCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials
}

func (fs *fakeChatServer) receivedTypes() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	types := make([]string, 0, len(fs.received))
	for _, frame := range fs.received {
		types = append(types, frame["type"])
	}
	return types
}

func (fs *fakeChatServer) lastConn() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

// dropConnections closes sockets without a close frame, which clients
// must treat as an unclean close.
func (fs *fakeChatServer) dropConnections() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		conn.Close()
	}
	fs.conns = nil
}

func (fs *fakeChatServer) closeCleanly() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for _, conn := range fs.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	fs.conns = nil
}

func newTestSession(t *testing.T, fs *fakeChatServer) *Session {
	t.Helper()
	s := NewSession(Config{URL: fs.url(), RetryDelay: 30 * time.Millisecond})
	t.Cleanup(func() { s.Close() })
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

func TestSession_SendBeforeConnect(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	assert.ErrorIs(t, s.Send(map[string]string{"type": "ping"}), ErrNotOpen)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_OpenReplaysCredentialsThenHistory(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)
	s.SetCredentials(Credentials{AuthToken: "tok-1", UserID: "u1", Username: "alice"})

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)

	require.Eventually(t, func() bool {
		return len(fs.receivedTypes()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"auth", "get_history"}, fs.receivedTypes())

	fs.mu.Lock()
	auth := fs.received[0]
	fs.mu.Unlock()
	assert.Equal(t, "tok-1", auth["authToken"])
	assert.Equal(t, "u1", auth["userId"])
	assert.Equal(t, "alice", auth["username"])
}

func TestSession_DuplicateConnectSuppressed(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)
	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
}

func TestSession_AnswersServerPing(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)

	require.NoError(t, fs.lastConn().WriteJSON(map[string]string{"type": "ping"}))

	require.Eventually(t, func() bool {
		for _, ft := range fs.receivedTypes() {
			if ft == "pong" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_DeliversServerFrames(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)

	require.NoError(t, fs.lastConn().WriteJSON(map[string]interface{}{
		"type": "connection_count", "count": 3,
	}))

	select {
	case frame := <-s.Frames():
		assert.Equal(t, "connection_count", frame.Type)
		var payload struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		assert.Equal(t, 3, payload.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSession_UncleanCloseReconnectsOnce(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)
	s.SetCredentials(Credentials{AuthToken: "tok-1", UserID: "u1", Username: "alice"})

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)
	require.Eventually(t, func() bool {
		return len(fs.receivedTypes()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	fs.dropConnections()
	require.Eventually(t, func() bool {
		return fs.dialCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, s, StateOpen)

	// Auth is replayed on the new socket; the history request is not
	// repeated while the token is unchanged.
	require.Eventually(t, func() bool {
		return len(fs.receivedTypes()) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"auth", "get_history", "auth"}, fs.receivedTypes())
}

func TestSession_NewTokenReenablesHistoryRequest(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)
	s.SetCredentials(Credentials{AuthToken: "tok-1", UserID: "u1", Username: "alice"})

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)
	require.Eventually(t, func() bool {
		return len(fs.receivedTypes()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.SetCredentials(Credentials{AuthToken: "tok-2", UserID: "u1", Username: "alice"})
	fs.dropConnections()
	require.Eventually(t, func() bool {
		return fs.dialCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, s, StateOpen)

	require.Eventually(t, func() bool {
		return len(fs.receivedTypes()) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"auth", "get_history", "auth", "get_history"}, fs.receivedTypes())
}

func TestSession_CleanCloseDoesNotReconnect(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)

	fs.closeCleanly()
	waitState(t, s, StateIdle)

	// Well past the retry delay, still exactly one dial.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_CloseIsFinal(t *testing.T) {
	fs := newFakeChatServer(t)
	s := newTestSession(t, fs)

	require.NoError(t, s.Connect())
	waitState(t, s, StateOpen)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Send(map[string]string{"type": "ping"}), ErrNotOpen)
	assert.ErrorIs(t, s.Connect(), ErrSessionClosed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
}
