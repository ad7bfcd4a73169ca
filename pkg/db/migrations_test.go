package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

const migrationsTestPrefix = "db:migrations_test"

func TestLoadMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0003_third.sql":  {Data: []byte("THIRD")},
		"m/0001_first.sql":  {Data: []byte("FIRST")},
		"m/0002_second.sql": {Data: []byte("SECOND")},
		"m/README.md":       {Data: []byte("# Migrations")},
		"m/dir.sql/x.sql":   {Data: []byte("NESTED")},
	}

	result, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	want := []string{"FIRST", "SECOND", "THIRD"}
	if len(result) != len(want) {
		t.Fatalf("%s - expected %d migrations, got %d", migrationsTestPrefix, len(want), len(result))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("%s - migration %d = %q, want %q", migrationsTestPrefix, i, result[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_create.sql"), []byte("CREATE TABLE x;"), 0644); err != nil {
		t.Fatalf("%s - failed to write file: %v", migrationsTestPrefix, err)
	}

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 1 || result[0] != "CREATE TABLE x;" {
		t.Errorf("%s - unexpected result %v", migrationsTestPrefix, result)
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	result, err := Migrations("")
	if err != nil {
		t.Fatalf("%s - embedded migrations: %v", migrationsTestPrefix, err)
	}
	if len(result) == 0 {
		t.Fatalf("%s - no embedded migrations", migrationsTestPrefix)
	}
	if !strings.Contains(result[0], "CREATE TABLE IF NOT EXISTS invocations") {
		t.Errorf("%s - first migration does not create invocations", migrationsTestPrefix)
	}
}
