package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the relocations table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Relocations are written from many goroutines; one connection serializes them.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS relocations (
		server TEXT NOT NULL,
		hash TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT,
		source TEXT,
		destination TEXT,
		status TEXT NOT NULL,
		bytes INTEGER DEFAULT 0,
		error TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (server, hash)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create relocations table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_relocations_updated_at ON relocations (updated_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create relocations index: %w", err)
	}

	return db, nil
}
