package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/auth"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(newFakeStore(), auth.NewVerifier([]byte("test-secret")), cfg)
	t.Cleanup(m.Stop)
	return m
}

func TestManager_GetReturnsSameActor(t *testing.T) {
	m := newTestManager(t, testConfig())

	a := m.Get("lobby")
	b := m.Get("lobby")
	other := m.Get("dev")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, "lobby", a.RoomID())
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, testConfig())

	lobby := m.Get("lobby")
	m.Get("dev")

	sender := newFakeSender("c1")
	require.NoError(t, lobby.Reserve("10.0.0.1"))
	require.NoError(t, lobby.Attach(sender, "10.0.0.1"))

	stats := m.Stats()
	assert.Equal(t, 2, stats["active_rooms"])
	assert.Equal(t, 1, stats["total_connections"])
}

func TestManager_SweepEvictsIdleRooms(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = time.Minute
	m := newTestManager(t, cfg)

	idle := m.Get("idle")
	busy := m.Get("busy")
	require.NoError(t, busy.Reserve("10.0.0.1"))
	require.NoError(t, busy.Attach(newFakeSender("c1"), "10.0.0.1"))

	m.sweep(time.Now().Add(2 * time.Minute))

	// The idle room is gone and closed; the occupied one survives.
	assert.ErrorIs(t, idle.Reserve("10.0.0.1"), ErrRoomClosed)
	assert.Same(t, busy, m.Get("busy"))

	// A later Get for the evicted id yields a fresh actor.
	fresh := m.Get("idle")
	assert.NotSame(t, idle, fresh)
	require.NoError(t, fresh.Reserve("10.0.0.1"))
}

func TestManager_StopClosesAllRooms(t *testing.T) {
	m := newTestManager(t, testConfig())
	a := m.Get("lobby")

	m.Stop()

	assert.ErrorIs(t, a.Reserve("10.0.0.1"), ErrRoomClosed)
	assert.Equal(t, 0, m.Stats()["active_rooms"])
}
