package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
	if !db.Healthy() {
		t.Error("Healthy = false, want true")
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"schema_versions", "archive", "causal_records"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestOpenFileIsIdempotent(t *testing.T) {
	path := DBPath(filepath.Join(t.TempDir(), "nested"))
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	v, _ := db.SchemaVersion()
	if v != len(migrations) {
		t.Errorf("SchemaVersion after reopen = %d", v)
	}
}

func TestArchiveSignificanceConstraint(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`
		INSERT INTO archive (life_id, seq, category, significance, weight, created_at, archived_at)
		VALUES ('l', 1, 'c', 1.5, 1, 0, 0)
	`)
	if err == nil {
		t.Error("expected error for significance > 1, got nil")
	}
}
