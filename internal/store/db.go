// Package store persists governance records, backlog tasks, backups, the
// per-topic cache, reports and usage accounting in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "sovereign.db"

var ErrNotFound = errors.New("not found")

// Open opens the engine database under dataDir, creating the directory and
// applying migrations as needed.
func Open(dataDir string) (*sql.DB, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(dataDir, defaultDBName))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// The engine is single-threaded; one connection avoids sqlite busy errors.
	conn.SetMaxOpenConns(1)
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
