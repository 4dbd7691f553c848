package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/checksum"
	"github.com/starford/ordo/internal/storage"
)

// Forgetter drops dedup knowledge about a path that undo moves away.
type Forgetter interface {
	ForgetPath(ctx context.Context, path string) error
}

// Dir is the journal area of a state directory: session files plus displaced backups.
type Dir struct {
	journalDir   string
	displacedDir string
	fs           storage.Provider
	forget       Forgetter
	logger       *slog.Logger
}

// UndoResult reports what an undo did.
type UndoResult struct {
	SessionID       string `json:"session_id"`
	Reverted        int    `json:"reverted"`
	AlreadyReverted int    `json:"already_reverted"`
	Skipped         int    `json:"skipped"`
}

// RecoverResult reports how pending entries were settled.
type RecoverResult struct {
	Sessions   int `json:"sessions"`
	Committed  int `json:"committed"`
	RolledBack int `json:"rolled_back"`
}

// NewDir prepares the journal area under stateDir. forget may be nil.
func NewDir(stateDir string, fs storage.Provider, forget Forgetter, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dir{
		journalDir:   filepath.Join(stateDir, "journal"),
		displacedDir: filepath.Join(stateDir, "displaced"),
		fs:           fs,
		forget:       forget,
		logger:       logger,
	}
	for _, p := range []string{d.journalDir, d.displacedDir} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, apperr.New(apperr.KindJournalWrite, "mkdir", p, err)
		}
	}
	return d, nil
}

// Path returns the directory holding session files.
func (d *Dir) Path() string { return d.journalDir }

// DisplacedDir returns where a session keeps files displaced by the overwrite policy.
func (d *Dir) DisplacedDir(sessionID string) string {
	return filepath.Join(d.displacedDir, sessionID)
}

// Create starts a new session.
func (d *Dir) Create() (*Journal, error) {
	return Create(d.journalDir)
}

// Load returns one session.
func (d *Dir) Load(id string) (*Session, error) {
	return Load(d.journalDir, id)
}

// Sessions summarizes every session, oldest first.
func (d *Dir) Sessions() ([]Summary, error) {
	ids, err := IDs(d.journalDir)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := d.Load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s.Summary())
	}
	return out, nil
}

// Latest returns the id of the most recent session.
func (d *Dir) Latest() (string, error) {
	ids, err := IDs(d.journalDir)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", apperr.New(apperr.KindIO, "latest session", d.journalDir, apperr.ErrNotFound)
	}
	return ids[len(ids)-1], nil
}

// Undo reverts the committed entries of a session in reverse order.
// An empty id selects the latest session. Undo stops at the first error;
// running it again continues where it stopped.
func (d *Dir) Undo(ctx context.Context, id string) (UndoResult, error) {
	if id == "" {
		latest, err := d.Latest()
		if err != nil {
			return UndoResult{}, err
		}
		id = latest
	}
	res := UndoResult{SessionID: id}

	s, err := d.Load(id)
	if err != nil {
		return res, err
	}
	if len(s.Pending()) > 0 {
		if _, _, err := d.recoverSession(ctx, s); err != nil {
			return res, err
		}
		if s, err = d.Load(id); err != nil {
			return res, err
		}
	}

	j, err := reopen(d.journalDir, id, s.LastSeq())
	if err != nil {
		return res, err
	}
	defer j.Close()

	plan := s.UndoPlan()
	res.Skipped = len(s.Entries) - len(plan)
	for _, e := range plan {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		already, err := d.revert(ctx, e)
		if err != nil {
			d.logger.Error("journal: undo entry",
				slog.String("session", id),
				slog.Uint64("seq", e.Seq),
				slog.String("error", err.Error()))
			return res, err
		}
		if err := j.Rollback(e, nil); err != nil {
			return res, err
		}
		if already {
			res.AlreadyReverted++
		} else {
			res.Reverted++
		}
	}
	d.logger.Info("journal: undo finished",
		slog.String("session", id),
		slog.Int("reverted", res.Reverted),
		slog.Int("already_reverted", res.AlreadyReverted))
	return res, nil
}

// revert applies the inverse of a committed entry. already is true when the
// filesystem shows the inverse has taken effect.
func (d *Dir) revert(ctx context.Context, e Entry) (already bool, err error) {
	srcExists, err := d.fs.Exists(e.Src)
	if err != nil {
		return false, err
	}
	dstExists, err := d.fs.Exists(e.Dst)
	if err != nil {
		return false, err
	}

	switch {
	case srcExists && !dstExists:
		return true, d.restoreDisplaced(e)
	case srcExists && dstExists:
		if e.Prior.Displaced != "" {
			backup, err := d.fs.Exists(e.Prior.Displaced)
			if err != nil {
				return false, err
			}
			if !backup {
				return true, nil
			}
		}
		return false, apperr.Newf(apperr.KindIO, "undo", e.Src, "source path is occupied")
	case !dstExists:
		return false, apperr.Newf(apperr.KindIO, "undo", e.Dst, "organized file is missing")
	}

	// Dst must still hold this session's content; a later session may have replaced it.
	if e.Prior.SrcHash != "" {
		same, err := d.hashIs(e.Dst, e.Prior.SrcHash)
		if err != nil {
			return false, err
		}
		if !same {
			return false, apperr.Newf(apperr.KindConflictUnresolved, "undo", e.Dst,
				"organized file no longer holds this session's content; undo later sessions first")
		}
	}

	switch e.Op {
	case OpMove:
		if err := d.fs.Move(e.Dst, e.Src); err != nil {
			return false, err
		}
	case OpHardLink:
		if err := d.fs.Copy(e.Dst, e.Src); err != nil {
			return false, err
		}
		if err := d.fs.SetAttrs(e.Src, e.Prior.Mode, e.Prior.ModTime); err != nil {
			return false, err
		}
		if err := d.fs.Remove(e.Dst); err != nil {
			return false, err
		}
	}
	if d.forget != nil {
		if err := d.forget.ForgetPath(ctx, e.Dst); err != nil {
			d.logger.Warn("journal: forget canonical", slog.String("path", e.Dst), slog.String("error", err.Error()))
		}
	}
	return false, d.restoreDisplaced(e)
}

func (d *Dir) restoreDisplaced(e Entry) error {
	if e.Prior.Displaced == "" {
		return nil
	}
	backup, err := d.fs.Exists(e.Prior.Displaced)
	if err != nil || !backup {
		return err
	}
	occupied, err := d.fs.Exists(e.Dst)
	if err != nil {
		return err
	}
	if occupied {
		return apperr.Newf(apperr.KindIO, "restore displaced", e.Dst, "destination is occupied, backup kept at %s", e.Prior.Displaced)
	}
	return d.fs.Move(e.Prior.Displaced, e.Dst)
}

// Recover settles every Pending entry in every session by inspecting the filesystem.
func (d *Dir) Recover(ctx context.Context) (RecoverResult, error) {
	var res RecoverResult
	ids, err := IDs(d.journalDir)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		s, err := d.Load(id)
		if err != nil {
			return res, err
		}
		if len(s.Pending()) == 0 {
			continue
		}
		committed, rolledBack, err := d.recoverSession(ctx, s)
		res.Sessions++
		res.Committed += committed
		res.RolledBack += rolledBack
		if err != nil {
			return res, err
		}
	}
	if res.Sessions > 0 {
		d.logger.Warn("journal: recovered interrupted sessions",
			slog.Int("sessions", res.Sessions),
			slog.Int("committed", res.Committed),
			slog.Int("rolled_back", res.RolledBack))
	}
	return res, nil
}

func (d *Dir) recoverSession(ctx context.Context, s *Session) (committed, rolledBack int, err error) {
	j, err := reopen(d.journalDir, s.ID, s.LastSeq())
	if err != nil {
		return 0, 0, err
	}
	defer j.Close()

	for _, e := range s.Pending() {
		if err := ctx.Err(); err != nil {
			return committed, rolledBack, err
		}
		done, cause, err := d.settle(e)
		if err != nil {
			return committed, rolledBack, err
		}
		if done {
			if err := j.Commit(e); err != nil {
				return committed, rolledBack, err
			}
			committed++
			continue
		}
		if err := j.Rollback(e, cause); err != nil {
			return committed, rolledBack, err
		}
		rolledBack++
	}
	return committed, rolledBack, nil
}

// settle decides whether an interrupted mutation completed. It finishes a
// half-done mutation (leftover source) or undoes a partial displacement.
func (d *Dir) settle(e Entry) (done bool, cause error, err error) {
	srcExists, err := d.fs.Exists(e.Src)
	if err != nil {
		return false, nil, err
	}
	dstExists, err := d.fs.Exists(e.Dst)
	if err != nil {
		return false, nil, err
	}

	landed := false
	if dstExists {
		switch e.Op {
		case OpMove:
			landed, err = d.hashIs(e.Dst, e.Prior.SrcHash)
			if err != nil {
				return false, nil, err
			}
			if landed && srcExists && e.Prior.Displaced != "" {
				// Dst may still be the identical occupant if displacement never ran.
				backup, err := d.fs.Exists(e.Prior.Displaced)
				if err != nil {
					return false, nil, err
				}
				landed = backup
			}
		case OpHardLink:
			landed = d.fs.SameFile(e.Dst, e.Canonical)
		}
	}

	if landed {
		if srcExists && !d.fs.SameFile(e.Src, e.Dst) {
			same, err := d.hashIs(e.Src, e.Prior.SrcHash)
			if err != nil {
				return false, nil, err
			}
			if same {
				if err := d.fs.Remove(e.Src); err != nil {
					return false, nil, err
				}
			}
		}
		return true, nil, nil
	}

	if err := d.restoreDisplaced(e); err != nil {
		return false, nil, err
	}
	if !srcExists {
		cause = fmt.Errorf("interrupted %s lost track of %s", e.Op, e.Src)
		d.logger.Error("journal: source missing during recovery", slog.String("path", e.Src))
	}
	return false, cause, nil
}

func (d *Dir) hashIs(path, want string) (bool, error) {
	if want == "" {
		return false, nil
	}
	got, err := checksum.SumFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.New(apperr.KindHash, "hash", path, err)
	}
	return got == want, nil
}
