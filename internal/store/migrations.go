package store

import (
	"database/sql"
	"fmt"
)

// migration is one schema step, applied in order inside a transaction.
type migration struct {
	version     string
	description string
	sql         string
}

// Migrations are embedded rather than loaded from disk so a fresh binary
// can always bring an empty database up to date.
var migrations = []migration{
	{
		version:     "001",
		description: "initial schema",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id         TEXT PRIMARY KEY,
				username   TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS rooms (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL,
				last_activity DATETIME NOT NULL,
				created_at    DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS messages (
				id         TEXT PRIMARY KEY,
				room_id    TEXT NOT NULL REFERENCES rooms(id),
				user_id    TEXT NOT NULL REFERENCES users(id),
				content    TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);
		`,
	},
	{
		version:     "002",
		description: "message history index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_messages_room_time
				ON messages(room_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_rooms_activity
				ON rooms(last_activity DESC);
		`,
	},
}

func applyMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
