package db

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
)

const migrationsLogPrefix = "db:migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and returns their contents.
func LoadMigrationFiles(dir string) ([]string, error) {
	out, err := loadMigrations(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("%s - migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// EmbeddedMigrations returns the migrations compiled into the binary.
func EmbeddedMigrations() ([]string, error) {
	return loadMigrations(embeddedMigrations, "migrations")
}

// Migrations loads from dir when it is set, otherwise from the embedded set.
func Migrations(dir string) ([]string, error) {
	if dir == "" {
		return EmbeddedMigrations()
	}
	return LoadMigrationFiles(dir)
}

func loadMigrations(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migrations: %w", migrationsLogPrefix, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
