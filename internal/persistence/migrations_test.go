package persistence

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_threads.sql", "001_init.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- noop"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"001_init.sql", "002_threads.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
}

func TestMigrationFilesMissingDir(t *testing.T) {
	if _, err := migrationFiles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
