package db

import (
	"path/filepath"
	"testing"
)

func TestMigrations_VersionAfterOpen(t *testing.T) {
	database := openTestDB(t)

	version, dirty, err := MigrationVersionFromPath(database.Path())
	if err != nil {
		t.Fatalf("MigrationVersionFromPath() error = %v", err)
	}
	if dirty {
		t.Error("database is dirty after migration")
	}
	if version != SchemaVersion {
		t.Errorf("version = %d, want %d", version, SchemaVersion)
	}
}

func TestMigrations_UpIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	for i := 0; i < 2; i++ {
		if err := MigrateUpFromPath(dbPath); err != nil {
			t.Fatalf("MigrateUpFromPath() run %d error = %v", i+1, err)
		}
	}
}

func TestMigrations_DownDropsTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	if err := MigrateUpFromPath(dbPath); err != nil {
		t.Fatalf("MigrateUpFromPath() error = %v", err)
	}

	conn, err := NewSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	if err := MigrateDown(conn, -1); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	check, err := NewSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	defer check.Close()

	var n int
	err = check.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'runs'`).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("runs table still exists after MigrateDown")
	}
}
