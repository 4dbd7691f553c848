// Package conflict decides what happens when a destination is already occupied.
package conflict

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/storage"
)

// MaxRenameAttempts bounds the " (N)" suffix search.
const MaxRenameAttempts = 999

// Occupancy reports destinations that are taken without existing on disk yet,
// such as paths already planned during a dry run.
type Occupancy interface {
	Occupied(path string) bool
}

// Outcome is the result of resolving one destination.
type Outcome struct {
	// Destination is the final path, possibly renamed.
	Destination string
	// Conflict is true when the original destination was occupied.
	Conflict bool
	// Skip means the candidate stays where it is.
	Skip bool
	// Displace means the occupant must be moved aside before the candidate lands.
	Displace bool
}

// Resolver applies conflict policies against a storage provider.
type Resolver struct {
	fs storage.Provider
}

// New creates a Resolver.
func New(fs storage.Provider) *Resolver {
	return &Resolver{fs: fs}
}

func (r *Resolver) occupied(path string, extra Occupancy) (bool, error) {
	if extra != nil && extra.Occupied(path) {
		return true, nil
	}
	return r.fs.Exists(path)
}

// Resolve applies policy to dst. extra may be nil.
// Callers hold the destination lock from resolution through execution.
func (r *Resolver) Resolve(dst, policy string, extra Occupancy) (Outcome, error) {
	taken, err := r.occupied(dst, extra)
	if err != nil {
		return Outcome{}, err
	}
	if !taken {
		return Outcome{Destination: dst}, nil
	}

	switch policy {
	case rules.PolicySkip:
		return Outcome{Destination: dst, Conflict: true, Skip: true}, nil
	case rules.PolicyOverwrite:
		return Outcome{Destination: dst, Conflict: true, Displace: true}, nil
	case rules.PolicyRename, "":
		for n := 1; n <= MaxRenameAttempts; n++ {
			next := Renamed(dst, n)
			taken, err := r.occupied(next, extra)
			if err != nil {
				return Outcome{}, err
			}
			if !taken {
				return Outcome{Destination: next, Conflict: true}, nil
			}
		}
		return Outcome{}, apperr.Newf(apperr.KindConflictUnresolved, "rename", dst,
			"no free name after %d attempts", MaxRenameAttempts)
	default:
		return Outcome{}, apperr.Newf(apperr.KindConfig, "conflict", dst, "unknown policy %q", policy)
	}
}

// Renamed returns path with " (n)" inserted before its extension.
func Renamed(path string, n int) string {
	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
}

// BackupPath returns a unique location under dir for a displaced copy of path.
func BackupPath(dir, path string) string {
	return filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(path))
}
