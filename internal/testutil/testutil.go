// Package testutil provides shared test helpers for setting up roots, stores and services.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ordo/internal/dedup"
	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/organizer"
	"github.com/starford/ordo/internal/resolver"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/scan"
	"github.com/starford/ordo/internal/storage"
)

// TestDB creates a temporary canonical store that is automatically cleaned up.
func TestDB(t *testing.T) *dedup.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ordo-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := dedup.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRoot creates a temporary organizer root with a storage.FS.
func TestRoot(t *testing.T) (string, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs.Root(), fs
}

// TestService wires a complete organizer over a fresh root. The state
// directory lives outside the root.
func TestService(t *testing.T, cfgs ...rules.Config) (string, *organizer.Service) {
	t.Helper()
	root, fs := TestRoot(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := range cfgs {
		if err := cfgs[i].Validate(); err != nil {
			t.Fatal(err)
		}
	}
	set, err := rules.Compile(cfgs)
	if err != nil {
		t.Fatal(err)
	}
	ix := dedup.NewIndex(TestDB(t), logger)
	journals, err := journal.NewDir(t.TempDir(), fs, ix, logger)
	if err != nil {
		t.Fatal(err)
	}
	res, err := resolver.New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(set, fs, journals, res, engine.WithIndex(ix), engine.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	return root, organizer.NewService(eng, scan.Options{MaxDepth: 1})
}

// WriteFile creates root/rel with content and a fixed 2024 modification time.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mt := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	if err := os.Chtimes(p, mt, mt); err != nil {
		t.Fatal(err)
	}
	return p
}
