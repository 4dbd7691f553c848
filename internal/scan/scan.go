// Package scan enumerates candidate files lazily.
package scan

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Entry is one discovered file.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	// Err is set when the entry could not be inspected; the pipeline fails it individually.
	Err error
}

// Options control a walk.
type Options struct {
	// MaxDepth limits recursion; 1 lists only the root's own files, 0 is unbounded.
	MaxDepth int
	// Exclude holds doublestar patterns matched against slash-separated paths relative to the root.
	Exclude []string
	// Skip lists absolute directories never entered, such as the state directory.
	Skip []string
}

// Walk returns a restartable sequence of the regular files under root.
// Hidden entries are skipped. Each iteration walks the tree afresh.
func Walk(root string, opts Options) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		stopped := false
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if stopped {
				return filepath.SkipAll
			}
			if err != nil {
				if p == root {
					yield(Entry{Path: p, Err: err})
					return filepath.SkipAll
				}
				if !yield(Entry{Path: p, Err: err}) {
					stopped = true
					return filepath.SkipAll
				}
				return nil
			}
			if p == root {
				return nil
			}

			rel, _ := filepath.Rel(root, p)
			if d.IsDir() {
				if !opts.admits(filepath.ToSlash(rel), p, true) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !opts.admits(filepath.ToSlash(rel), p, false) {
				return nil
			}

			info, err := d.Info()
			e := Entry{Path: p, Err: err}
			if err == nil {
				e.Size = info.Size()
				e.ModTime = info.ModTime()
			}
			if !yield(e) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Admits reports whether a walk of root would visit path. A directory is
// admitted when the walk would descend into it.
func (o Options) Admits(root, path string, dir bool) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	if rel == "." {
		return dir
	}
	return o.admits(filepath.ToSlash(rel), path, dir)
}

func (o Options) admits(rel, path string, dir bool) bool {
	if strings.HasPrefix(filepath.Base(path), ".") || excluded(rel, o.Exclude) {
		return false
	}
	depth := strings.Count(rel, "/") + 1
	if dir {
		return !skipped(path, o.Skip) && (o.MaxDepth <= 0 || depth < o.MaxDepth)
	}
	return o.MaxDepth <= 0 || depth <= o.MaxDepth
}

// Stat builds an Entry for a single path, as watch mode discovers files one by one.
func Stat(path string) Entry {
	info, err := os.Lstat(path)
	if err != nil {
		return Entry{Path: path, Err: err}
	}
	return Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

// FromChannel adapts a channel into a sequence that ends when ch closes or ctx is done.
func FromChannel(ctx context.Context, ch <-chan Entry) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok || !yield(e) {
					return
				}
			}
		}
	}
}

func excluded(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func skipped(p string, dirs []string) bool {
	for _, d := range dirs {
		if p == d || strings.HasPrefix(p, d+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
