package db

import (
	"path/filepath"
	"testing"
)

// openTestDB opens a migrated database in a temp directory and closes it
// when the test ends.
func openTestDB(t *testing.T) *Database {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
