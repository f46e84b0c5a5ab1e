// Package db opens the workspace SQLite store that holds projects,
// milestones, tasks and the append-only task event log. The database lives
// at <workspace>/.burnline/burnline.db.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "burnline.db"

// Config locates the workspace; an empty Workspace means the current
// directory.
type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".burnline", defaultDBName)
}

// EnsureWorkspace creates the .burnline directory under workspace and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".burnline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the workspace database. Foreign keys are on so deleting a
// milestone unassigns its tasks; WAL and a busy timeout let the parallel
// burndown fetches read while a task write is in flight.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns where the workspace database file lives.
func Path(workspace string) string {
	return dbPath(workspace)
}
