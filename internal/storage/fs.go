package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/starford/ordo/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the organizer root
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// Exists reports whether anything exists at path.
func (f *FS) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperr.New(apperr.KindIO, "stat", path, err)
}

// Move renames src to dst. Across volumes it copies and then removes src.
func (f *FS) Move(src, dst string) error {
	if exists, err := f.Exists(dst); err != nil {
		return err
	} else if exists {
		return apperr.New(apperr.KindIO, "move", dst, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.New(apperr.KindIO, "mkdir", filepath.Dir(dst), err)
	}
	err := os.Rename(src, dst)
	if errors.Is(err, syscall.EXDEV) {
		if err := f.Copy(src, dst); err != nil {
			return err
		}
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return apperr.New(apperr.KindIO, "remove moved source", src, err)
		}
		return syncDir(filepath.Dir(src))
	}
	if err != nil {
		return apperr.New(apperr.KindIO, "move", src, err)
	}
	return syncDir(filepath.Dir(dst))
}

// Link creates dst as a hard link to existing.
func (f *FS) Link(existing, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.New(apperr.KindIO, "mkdir", filepath.Dir(dst), err)
	}
	if err := os.Link(existing, dst); err != nil {
		return apperr.New(apperr.KindIO, "link", dst, err)
	}
	return syncDir(filepath.Dir(dst))
}

// Copy writes an independent copy of src at dst, preserving mode and mtime.
func (f *FS) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperr.New(apperr.KindIO, "copy", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return apperr.New(apperr.KindIO, "copy", src, err)
	}
	if err := writeAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}); err != nil {
		return apperr.New(apperr.KindIO, "copy", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return apperr.New(apperr.KindIO, "chtimes", dst, err)
	}
	return nil
}

// Remove deletes the file at path.
func (f *FS) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return apperr.New(apperr.KindIO, "remove", path, err)
	}
	return syncDir(filepath.Dir(path))
}

// SetAttrs restores permission bits and modification time.
func (f *FS) SetAttrs(path string, mode os.FileMode, mtime time.Time) error {
	if err := os.Chmod(path, mode.Perm()); err != nil {
		return apperr.New(apperr.KindIO, "chmod", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return apperr.New(apperr.KindIO, "chtimes", path, err)
	}
	return nil
}

// SameFile reports whether a and b are the same inode.
func (f *FS) SameFile(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

// SameDevice reports whether a and b (or b's nearest existing parent) share a volume.
func (f *FS) SameDevice(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	p := b
	for {
		ib, err := os.Stat(p)
		if err == nil {
			return sameDevice(ia, ib)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}

// writeAtomic writes through a temp file in the destination directory and renames it into place.
func writeAtomic(abs string, perm os.FileMode, fill func(io.Writer) error) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ordo-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return syncDir(dir)
}

// syncDir flushes directory metadata so a rename or link survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return apperr.New(apperr.KindIO, "open dir", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return apperr.New(apperr.KindIO, "fsync dir", dir, err)
	}
	return nil
}
