package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	title TEXT,
	description TEXT,
	mime_type TEXT,
	destination TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	bytes_downloaded INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT -1,
	local_uri TEXT,
	reason TEXT,
	locked_by TEXT,
	created_at TEXT,
	updated_at TEXT
);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`

// InitDB opens the SQLite database at path and creates the tables if they don't exist.
// Use ":memory:" for a throwaway database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serialises writers anyway, and a single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
