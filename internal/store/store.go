// Package store is the persistence adapter for rooms, users, and messages.
// SQLite writes go through a single writer goroutine; reads run
// concurrently against the connection pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"parley/pkg/types"
)

// Config controls the SQLite connection.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:            path,
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Second,
	}
}

// Manager implements the persistence operations the room actors and the
// HTTP API consume.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, and starts the
// writer goroutine.
func NewManager(config *Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine.
// SQLite tolerates one writer; funneling writes here avoids lock
// contention under concurrent rooms.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("store: write failed, retrying: %v", err)
				time.Sleep(time.Second)
				err = op.operation(m.db) // retry once
				if err != nil {
					log.Printf("store: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}
}

// CreateUser inserts a user with a server-assigned id.
func (m *Manager) CreateUser(ctx context.Context, username string) (*types.User, error) {
	user := &types.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
			user.ID, user.Username, user.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// GetUserByUsername returns ErrUserNotFound when no such user exists.
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username)

	var user types.User
	if err := row.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// EnsureUser returns the user with the given username, creating the
// record when absent. Used for lazy user creation on first message.
func (m *Manager) EnsureUser(ctx context.Context, username string) (*types.User, error) {
	user, err := m.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if err != ErrUserNotFound {
		return nil, err
	}

	user, err = m.CreateUser(ctx, username)
	if err != nil {
		// Lost a create race; the unique index guarantees the row exists.
		if existing, getErr := m.GetUserByUsername(ctx, username); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom inserts a room with a server-assigned id.
func (m *Manager) CreateRoom(ctx context.Context, name string) (*types.Room, error) {
	return m.insertRoom(ctx, uuid.New().String(), name)
}

// EnsureRoom returns the room with the given id, creating it with the
// given display name when absent. Used for lazy room creation when the
// first message arrives for a room id only the client knows.
func (m *Manager) EnsureRoom(ctx context.Context, id, name string) (*types.Room, error) {
	room, err := m.GetRoom(ctx, id)
	if err == nil {
		return room, nil
	}
	if err != ErrRoomNotFound {
		return nil, err
	}

	room, err = m.insertRoom(ctx, id, name)
	if err != nil {
		// Lost a create race with another instance; the row is there now.
		if existing, getErr := m.GetRoom(ctx, id); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return room, nil
}

func (m *Manager) insertRoom(ctx context.Context, id, name string) (*types.Room, error) {
	now := time.Now().UTC()
	room := &types.Room{
		ID:           id,
		Name:         name,
		LastActivity: now,
		CreatedAt:    now,
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (id, name, last_activity, created_at) VALUES (?, ?, ?, ?)`,
			room.ID, room.Name, room.LastActivity, room.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert room: %w", err)
	}
	return room, nil
}

// GetRoom returns ErrRoomNotFound when no such room exists.
func (m *Manager) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, last_activity, created_at FROM rooms WHERE id = ?`, id)

	var room types.Room
	if err := row.Scan(&room.ID, &room.Name, &room.LastActivity, &room.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &room, nil
}

// ListRooms returns all rooms ordered by most recent activity.
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, last_activity, created_at FROM rooms ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.LastActivity, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// InsertMessage stores an accepted message with a server-assigned id and
// timestamp. The returned message carries the author's username.
func (m *Manager) InsertMessage(ctx context.Context, roomID, userID, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, room_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.RoomID, userID, msg.Content, msg.Timestamp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	row := m.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, userID)
	if err := row.Scan(&msg.User); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to resolve author: %w", err)
	}
	return msg, nil
}

// ListRecentMessages returns up to limit messages for a room, most
// recent first.
func (m *Manager) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.User, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// TouchRoomActivity advances a room's last-activity timestamp. The guard
// keeps the column monotonically non-decreasing.
func (m *Manager) TouchRoomActivity(ctx context.Context, roomID string) error {
	now := time.Now().UTC()
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE rooms SET last_activity = ? WHERE id = ? AND last_activity < ?`,
			now, roomID, now)
		return err
	})
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, "SELECT COUNT(*) FROM rooms LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for schema inspection in tests.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close drains the writer goroutine and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
