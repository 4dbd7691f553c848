package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/conflict"
	"github.com/starford/ordo/internal/dedup"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/models"
)

// commit runs the sequential half of the pipeline for one prepared slot.
// Only journal failures are returned; everything else fails the candidate alone.
func (e *Engine) commit(ctx context.Context, st *runState, s *slot) error {
	c := s.c
	st.report.Scanned++

	if c.State().Terminal() {
		e.settled(st, c)
		return nil
	}
	st.report.Matched++

	if filepath.Clean(s.dst) == filepath.Clean(c.Path) {
		_ = c.Advance(models.StatePlanned)
		_ = c.Finish(models.StateSkipped, "already in place")
		e.settled(st, c)
		return nil
	}

	action := models.Action{Kind: models.ActionMove, Source: c.Path, Destination: s.dst, Rule: s.rule.Name}
	if e.dedup {
		canonical, err := e.findCanonical(ctx, st, c, s.dst)
		if err != nil {
			e.fail(st, c, err)
			return nil
		}
		if canonical != "" {
			action.Kind = models.ActionHardLink
			action.Canonical = canonical
		}
	}

	unlock := e.locks.Lock(s.dst)
	defer unlock()

	var occupancy conflict.Occupancy
	if st.opts.DryRun {
		occupancy = st
	}
	out, err := e.conflicts.Resolve(s.dst, s.rule.Conflict, occupancy)
	if err != nil {
		e.fail(st, c, err)
		return nil
	}
	policy := ""
	if out.Conflict {
		policy = s.rule.Conflict
		st.report.conflict(policy)
	}
	action.Destination = out.Destination

	if err := c.Advance(models.StatePlanned); err != nil {
		e.fail(st, c, err)
		return nil
	}
	if out.Skip {
		action.Kind, action.Canonical = models.ActionSkip, ""
		_ = c.Finish(models.StateSkipped, "destination occupied")
		st.report.Actions = append(st.report.Actions, PlannedAction{Action: action, Size: c.Size, Policy: policy})
		e.settled(st, c)
		return nil
	}
	if action.Kind == models.ActionHardLink && out.Displace && action.Canonical == out.Destination {
		// The canonical itself is the occupant being displaced; the content moves in instead.
		action.Kind, action.Canonical = models.ActionMove, ""
	}

	planned := PlannedAction{Action: action, Size: c.Size, Policy: policy}
	if st.opts.DryRun {
		st.planned[action.Destination] = true
		if action.Kind == models.ActionMove {
			if _, ok := st.canonical[c.Hash()]; !ok {
				st.canonical[c.Hash()] = plannedCanonical{dst: action.Destination, src: c.Path}
			}
		} else {
			st.report.BytesSaved += c.Size
		}
		st.report.Planned++
		st.report.Actions = append(st.report.Actions, planned)
		e.emit(Event{Type: EventActionTaken, DryRun: true, Path: c.Path, State: c.State().String(), Action: &action})
		return nil
	}

	return e.execute(ctx, st, c, planned, out.Displace)
}

// findCanonical returns the path a duplicate should link to, or "" for unique content.
func (e *Engine) findCanonical(ctx context.Context, st *runState, c *models.Candidate, dst string) (string, error) {
	hash := c.Hash()
	rec, ok, err := e.index.Lookup(ctx, hash)
	if err != nil {
		e.logger.Warn("engine: dedup lookup", slog.String("path", c.Path), slog.String("error", err.Error()))
		ok = false
	}

	indexed := ok
	linkTo, canon := rec.Path, rec.Path
	if !ok && st.opts.DryRun {
		if pc, found := st.canonical[hash]; found {
			ok, linkTo, canon = true, pc.dst, pc.src
		}
	}
	if !ok || canon == c.Path || linkTo == c.Path {
		return "", nil
	}

	// The canonical may have been edited in place since it was indexed.
	// Paranoid mode compares bytes; otherwise it is hashed again.
	if e.paranoid {
		same, err := e.hasher.Verify(ctx, canon, c.Path)
		if err != nil {
			return "", err
		}
		if !same {
			e.logger.Warn("engine: hash match with different content, keeping both",
				slog.String("path", c.Path), slog.String("canonical", linkTo))
			e.dropCanonical(ctx, indexed, linkTo)
			return "", nil
		}
	} else {
		sum, err := e.hasher.Hash(ctx, canon)
		if err != nil && ctx.Err() != nil {
			return "", err
		}
		if err != nil || sum != hash {
			e.logger.Warn("engine: canonical changed since it was indexed, moving instead",
				slog.String("path", c.Path), slog.String("canonical", linkTo))
			e.dropCanonical(ctx, indexed, linkTo)
			return "", nil
		}
	}
	if !e.fs.SameDevice(canon, filepath.Dir(dst)) {
		e.logger.Debug("engine: canonical on another volume, moving instead",
			slog.String("path", c.Path), slog.String("canonical", linkTo))
		return "", nil
	}
	return linkTo, nil
}

// dropCanonical forgets an indexed canonical that no longer holds its content.
func (e *Engine) dropCanonical(ctx context.Context, indexed bool, path string) {
	if !indexed {
		return
	}
	if err := e.index.ForgetPath(context.WithoutCancel(ctx), path); err != nil {
		e.logger.Warn("engine: forget canonical", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// execute journals and performs one action.
func (e *Engine) execute(ctx context.Context, st *runState, c *models.Candidate, pa PlannedAction, displace bool) error {
	a := pa.Action
	info, err := os.Stat(c.Path)
	if err != nil {
		e.fail(st, c, apperr.New(apperr.KindIO, "stat", c.Path, err))
		return nil
	}

	if st.journal == nil {
		j, err := e.createJournal()
		if err != nil {
			e.fail(st, c, err)
			return err
		}
		st.journal = j
		st.report.SessionID = j.ID()
	}

	prior := journal.PriorState{
		SrcHash: c.Hash(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
	if displace {
		sum, err := e.hasher.Hash(ctx, a.Destination)
		if err != nil {
			e.fail(st, c, err)
			return nil
		}
		prior.DstExisted = true
		prior.Displaced = conflict.BackupPath(e.journals.DisplacedDir(st.journal.ID()), a.Destination)
		prior.DisplacedHash = sum
	}

	op := journal.OpMove
	if a.Kind == models.ActionHardLink {
		op = journal.OpHardLink
	}
	entry, err := st.journal.Begin(journal.Entry{
		Op:        op,
		Src:       a.Source,
		Dst:       a.Destination,
		Canonical: a.Canonical,
		Rule:      a.Rule,
		Prior:     prior,
	})
	if err != nil {
		e.fail(st, c, err)
		return err
	}
	if err := c.Advance(models.StateJournaled); err != nil {
		e.fail(st, c, err)
		return st.journal.Rollback(entry, err)
	}

	// From here the entry must reach a terminal status even if ctx is cancelled.
	if err := journal.Apply(e.fs, entry); err != nil {
		e.fail(st, c, err)
		return st.journal.Rollback(entry, err)
	}
	if err := st.journal.Commit(entry); err != nil {
		e.fail(st, c, err)
		return err
	}
	_ = c.Advance(models.StateCommitted)

	if a.Kind == models.ActionMove && e.dedup {
		rec := dedup.Record{Hash: c.Hash(), Path: a.Destination, Size: info.Size(), ModTime: info.ModTime(), SessionID: st.journal.ID()}
		e.index.Register(context.WithoutCancel(ctx), rec)
	}
	if a.Kind == models.ActionHardLink {
		st.report.BytesSaved += info.Size()
	}
	st.report.Committed++
	st.report.Actions = append(st.report.Actions, pa)
	e.logger.Debug("engine: committed", slog.String("action", a.String()))
	e.emit(Event{Type: EventActionTaken, SessionID: st.journal.ID(), Path: c.Path, State: c.State().String(), Action: &a})
	return nil
}

// settled records a candidate that ended without an action.
func (e *Engine) settled(st *runState, c *models.Candidate) {
	switch c.State() {
	case models.StateUnmatched:
		st.report.Unmatched++
		if c.Reason() != "" {
			st.report.Diagnostics = append(st.report.Diagnostics, Note{Path: c.Path, Reason: c.Reason()})
		}
	case models.StateSkipped:
		st.report.Skipped++
	case models.StateFailed:
		st.report.Failed++
		st.report.Failures = append(st.report.Failures, Note{Path: c.Path, Reason: c.Reason()})
		e.logger.Warn("engine: candidate failed", slog.String("path", c.Path), slog.String("error", c.Reason()))
	}
	e.emit(Event{Type: EventCandidateProcessed, DryRun: st.opts.DryRun, Path: c.Path, State: c.State().String(), Reason: c.Reason()})
}

func (e *Engine) fail(st *runState, c *models.Candidate, err error) {
	_ = c.Finish(models.StateFailed, err.Error())
	e.settled(st, c)
}
