// Package storage performs the filesystem mutations the organizer journals.
package storage

import (
	"os"
	"time"
)

// Provider is the interface for the mutations the engine, undo and recovery perform.
// All paths are absolute.
type Provider interface {
	// Exists reports whether anything exists at path, without following symlinks.
	Exists(path string) (bool, error)
	// Move renames src to dst, copying across volumes. It never replaces an existing dst.
	Move(src, dst string) error
	// Link creates dst as a hard link to existing.
	Link(existing, dst string) error
	// Copy writes an independent copy of src at dst, preserving mode and mtime.
	Copy(src, dst string) error
	// Remove deletes the file at path.
	Remove(path string) error
	// SetAttrs restores permission bits and modification time.
	SetAttrs(path string, mode os.FileMode, mtime time.Time) error
	// SameFile reports whether a and b refer to the same inode.
	SameFile(a, b string) bool
	// SameDevice reports whether a and b reside on the same volume.
	// b may name a directory that does not exist yet; its nearest existing parent is used.
	SameDevice(a, b string) bool
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
