package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultConfig(filepath.Join(t.TempDir(), "parley.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMigrations_SchemaPresent(t *testing.T) {
	m := newTestStore(t)

	for _, table := range []string{"users", "rooms", "messages", "schema_migrations"} {
		var name string
		err := m.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}
}

func TestUsers_CreateAndLookup(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	_, err := m.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	created, err := m.CreateUser(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	found, err := m.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "alice", found.Username)
}

func TestRooms_EnsureIsIdempotent(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	first, err := m.EnsureRoom(ctx, "lobby", "Lobby")
	require.NoError(t, err)
	assert.Equal(t, "lobby", first.ID)

	second, err := m.EnsureRoom(ctx, "lobby", "renamed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Lobby", second.Name, "existing room keeps its name")

	room, err := m.GetRoom(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", room.Name)

	_, err = m.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMessages_RoundTripAndOrder(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	user, err := m.CreateUser(ctx, "alice")
	require.NoError(t, err)
	_, err = m.EnsureRoom(ctx, "lobby", "Lobby")
	require.NoError(t, err)

	before := time.Now().UTC()
	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := m.InsertMessage(ctx, "lobby", user.ID, content)
		require.NoError(t, err)
		assert.Equal(t, "alice", msg.User)
		assert.Equal(t, content, msg.Content)
		ids = append(ids, msg.ID)
	}

	recent, err := m.ListRecentMessages(ctx, "lobby", 100)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Most recent first.
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "one", recent[2].Content)
	assert.Equal(t, ids[2], recent[0].ID)

	for _, msg := range recent {
		assert.WithinDuration(t, before, msg.Timestamp, 5*time.Second)
	}

	limited, err := m.ListRecentMessages(ctx, "lobby", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "three", limited[0].Content)
}

func TestTouchRoomActivity_Monotonic(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	room, err := m.EnsureRoom(ctx, "lobby", "Lobby")
	require.NoError(t, err)

	require.NoError(t, m.TouchRoomActivity(ctx, "lobby"))

	after, err := m.GetRoom(ctx, "lobby")
	require.NoError(t, err)
	assert.False(t, after.LastActivity.Before(room.LastActivity),
		"last_activity must never move backwards")
}

func TestClose_RejectsFurtherWrites(t *testing.T) {
	m := newTestStore(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, err := m.CreateUser(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrClosed)
}
