package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesWorkspaceWithPragmas(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
	if _, err := os.Stat(Path(ws)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if want := filepath.Join(ws, ".burnline", "burnline.db"); Path(ws) != want {
		t.Fatalf("Path = %s, want %s", Path(ws), want)
	}
}
