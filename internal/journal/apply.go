package journal

import (
	"github.com/starford/ordo/internal/storage"
)

// Apply performs the mutation described by a Pending entry.
//
// Order matters for recovery: the previous occupant is displaced first, then
// the file lands at Dst, and for a hard link the source is removed last. On
// failure Apply puts back what it already changed.
func Apply(fs storage.Provider, e Entry) error {
	if e.Prior.Displaced != "" {
		if err := fs.Move(e.Dst, e.Prior.Displaced); err != nil {
			return err
		}
	}

	var err error
	switch e.Op {
	case OpMove:
		err = fs.Move(e.Src, e.Dst)
	case OpHardLink:
		err = fs.Link(e.Canonical, e.Dst)
		if err == nil {
			if rerr := fs.Remove(e.Src); rerr != nil {
				_ = fs.Remove(e.Dst)
				err = rerr
			}
		}
	}

	if err != nil && e.Prior.Displaced != "" {
		if exists, _ := fs.Exists(e.Dst); !exists {
			_ = fs.Move(e.Prior.Displaced, e.Dst)
		}
	}
	return err
}
