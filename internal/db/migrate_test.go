package db

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTestMigrations lays out a migrations directory with n versions that
// create and drop probe tables.
func writeTestMigrations(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	names := []string{"0001_probe", "0002_probe_two", "0003_probe_three"}
	for i := 0; i < n; i++ {
		up := "CREATE TABLE IF NOT EXISTS " + names[i][5:] + " (id INTEGER PRIMARY KEY);\n"
		down := "DROP TABLE IF EXISTS " + names[i][5:] + ";\n"
		if err := os.WriteFile(filepath.Join(dir, names[i]+".up.sql"), []byte(up), 0o644); err != nil {
			t.Fatalf("write up migration: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, names[i]+".down.sql"), []byte(down), 0o644); err != nil {
			t.Fatalf("write down migration: %v", err)
		}
	}
	return dir
}

func TestMigrateUpAndVersion(t *testing.T) {
	db := setupTestDB(t)
	dir := writeTestMigrations(t, 2)

	if err := db.MigrateUp(dir); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(dir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 false", version, dirty)
	}
	if err := db.CheckMigrations(dir); err != nil {
		t.Errorf("CheckMigrations = %v, want nil when current", err)
	}

	// Re-running with nothing pending is not an error.
	if err := db.MigrateUp(dir); err != nil {
		t.Errorf("MigrateUp (no change) = %v, want nil", err)
	}
}

func TestMigrateVersionFresh(t *testing.T) {
	db := setupTestDB(t)
	dir := writeTestMigrations(t, 1)

	version, dirty, err := db.MigrateVersion(dir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("version = %d dirty = %v, want 0 false before any migration", version, dirty)
	}
}

func TestMigrateDown(t *testing.T) {
	db := setupTestDB(t)
	dir := writeTestMigrations(t, 2)

	if err := db.MigrateUp(dir); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := db.MigrateDown(dir); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion(dir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1 after one rollback", version)
	}
}

func TestMigrateForce(t *testing.T) {
	db := setupTestDB(t)
	dir := writeTestMigrations(t, 1)

	if err := db.MigrateForce(dir, 1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(dir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 false after force", version, dirty)
	}
}

func TestLatestMigrationVersion(t *testing.T) {
	dir := writeTestMigrations(t, 3)
	latest, err := LatestMigrationVersion(dir)
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest = %d, want 3", latest)
	}

	if _, err := LatestMigrationVersion(t.TempDir()); err == nil {
		t.Error("LatestMigrationVersion on an empty dir = nil, want error")
	}
}

func TestCheckMigrationsStale(t *testing.T) {
	db := setupTestDB(t)
	dir := writeTestMigrations(t, 2)

	if err := db.CheckMigrations(dir); err == nil {
		t.Error("CheckMigrations = nil, want stale-schema error before migrating")
	}
}

// The shipped baseline migration must apply cleanly to a fresh database
// and agree with the inline schema.
func TestRepoBaselineMigration(t *testing.T) {
	repoMigrations := filepath.Join("..", "..", "migrations")
	if _, err := os.Stat(repoMigrations); err != nil {
		t.Skipf("migrations directory not found: %v", err)
	}

	db := setupTestDB(t)
	if err := db.MigrateUp(repoMigrations); err != nil {
		t.Fatalf("MigrateUp on shipped migrations failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(repoMigrations)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 false", version, dirty)
	}

	// The activities table is still usable after the migration stamped
	// over the inline schema.
	mustAppend(t, db, "sess", testResult(dbEpoch, "busy", 0.8))
	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}
