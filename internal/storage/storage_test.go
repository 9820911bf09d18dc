package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO trajectories (trajectory_id, protocol, path) VALUES ('t1', 'localfs', '/x')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening applies the schema again; it must be idempotent and keep
	// existing rows intact.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM trajectories`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("trajectories rows = %d, want 1", count)
	}
}

func TestTrajectoryIDIsUnique(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	const stmt = `INSERT INTO trajectories (trajectory_id, protocol, path) VALUES ('t1', 'localfs', '/x')`
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(stmt); err == nil {
		t.Fatal("duplicate trajectory_id accepted")
	}
}

func TestAllTablesPresent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"trajectories", "models", "messages"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
