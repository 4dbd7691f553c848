package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ordo/internal/apperr"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func put(t *testing.T, s *FS, rel, content string) string {
	t.Helper()
	p := filepath.Join(s.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMove(t *testing.T) {
	s := tempRoot(t)
	src := put(t, s, "old.txt", "data")
	dst := filepath.Join(s.Root(), "sub", "new.txt")
	if err := s.Move(src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if ok, _ := s.Exists(src); ok {
		t.Error("old path should not exist")
	}
}

func TestMoveNeverReplaces(t *testing.T) {
	s := tempRoot(t)
	a := put(t, s, "a.txt", "a")
	b := put(t, s, "b.txt", "b")
	err := s.Move(a, b)
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("Move onto existing: err = %v", err)
	}
	got, _ := os.ReadFile(b)
	if string(got) != "b" {
		t.Errorf("destination overwritten: %q", got)
	}
}

func TestLinkSharesInode(t *testing.T) {
	s := tempRoot(t)
	src := put(t, s, "x.txt", "same")
	dst := filepath.Join(s.Root(), "links", "y.txt")
	if err := s.Link(src, dst); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !s.SameFile(src, dst) {
		t.Error("expected same inode")
	}
	if !s.SameDevice(src, filepath.Join(s.Root(), "not", "yet", "there")) {
		t.Error("expected same device for a path under the root")
	}
}

func TestCopyPreservesModeAndMtime(t *testing.T) {
	s := tempRoot(t)
	src := filepath.Join(s.Root(), "src.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o750); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(s.Root(), "copy", "src.sh")
	if err := s.Copy(src, dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v", info.ModTime())
	}
	if s.SameFile(src, dst) {
		t.Error("copy must be an independent file")
	}
}

func TestRemove(t *testing.T) {
	s := tempRoot(t)
	p := put(t, s, "del.txt", "bye")
	if err := s.Remove(p); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, err := s.Exists(p); err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := s.Remove(p); !errors.Is(err, apperr.ErrIO) {
		t.Errorf("second Remove: %v", err)
	}
}

func TestCopyReplacesWithoutLeftovers(t *testing.T) {
	s := tempRoot(t)
	src := put(t, s, "new.txt", "updated")
	dst := put(t, s, "out/old.txt", "original")
	if err := s.Copy(src, dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "out", ".ordo-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(f, nil, 0o644)
	if _, err := NewFS(f); err == nil {
		t.Error("expected error when root is a file")
	}
}
