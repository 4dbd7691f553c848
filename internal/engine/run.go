package engine

import (
	"context"
	"iter"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/models"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/scan"
)

// RunOptions control one run.
type RunOptions struct {
	// DryRun stops every candidate at Planned and reports instead of mutating.
	DryRun bool
}

// slot carries one candidate from the prepare stage to the commit stage.
type slot struct {
	c    *models.Candidate
	rule *rules.Rule
	dst  string
	done chan struct{}
}

// plannedCanonical is a dry-run stand-in for a canonical that does not exist yet.
type plannedCanonical struct {
	dst string
	src string
}

// runState is owned by the commit goroutine.
type runState struct {
	opts    RunOptions
	report  *Report
	journal *journal.Journal

	// Dry-run bookkeeping: destinations and canonicals that would exist.
	planned   map[string]bool
	canonical map[string]plannedCanonical
}

func (s *runState) Occupied(path string) bool { return s.planned[path] }

// Run processes every entry of source. Candidates are prepared concurrently
// and committed one at a time in source order, so the first occurrence of a
// content hash is always the canonical one. Per-candidate failures are
// recorded in the report; journal failures abort the run.
func (e *Engine) Run(ctx context.Context, source iter.Seq[scan.Entry], opts RunOptions) (*Report, error) {
	st := &runState{
		opts:      opts,
		report:    newReport(e.Root(), opts.DryRun),
		planned:   map[string]bool{},
		canonical: map[string]plannedCanonical{},
	}
	defer func() {
		if st.journal != nil {
			_ = st.journal.Close()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := e.now()
	slots := make(chan *slot, 2*e.workers)
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(e.workers)

	go func() {
		defer close(slots)
		for entry := range source {
			if gctx.Err() != nil {
				break
			}
			s := &slot{c: models.NewCandidate(entry.Path, entry.Size, entry.ModTime), done: make(chan struct{})}
			select {
			case slots <- s:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				defer close(s.done)
				e.prepare(gctx, s, entry, now)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var fatal error
	for s := range slots {
		<-s.done
		if fatal != nil || ctx.Err() != nil {
			continue
		}
		if err := e.commit(ctx, st, s); err != nil {
			fatal = err
			cancel()
			e.logger.Error("engine: run aborted", slog.String("error", err.Error()))
		}
	}

	if st.journal != nil {
		st.report.SessionID = st.journal.ID()
	}
	totals := st.report.Totals
	e.emit(Event{Type: EventSummary, SessionID: st.report.SessionID, DryRun: opts.DryRun, Summary: &totals})
	e.logger.Info("engine: run finished",
		slog.String("session", st.report.SessionID),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("scanned", totals.Scanned),
		slog.Int("committed", totals.Committed),
		slog.Int("failed", totals.Failed))

	if fatal != nil {
		return st.report, fatal
	}
	if err := ctx.Err(); err != nil {
		return st.report, err
	}
	return st.report, nil
}

// prepare classifies, matches, resolves and hashes one candidate.
// Outcomes that end the candidate are recorded as terminal states.
func (e *Engine) prepare(ctx context.Context, s *slot, entry scan.Entry, now time.Time) {
	c := s.c
	if entry.Err != nil {
		_ = c.Finish(models.StateFailed, apperr.New(apperr.KindIO, "scan", c.Path, entry.Err).Error())
		return
	}
	if ctx.Err() != nil {
		_ = c.Finish(models.StateFailed, ctx.Err().Error())
		return
	}

	cl, err := e.inspector.Inspect(c)
	if err != nil {
		_ = c.Finish(models.StateFailed, err.Error())
		return
	}
	rule, ok := e.rules.Match(rules.SubjectOf(c, cl), now)
	if !ok {
		_ = c.Finish(models.StateUnmatched, "")
		return
	}
	if err := c.Advance(models.StateMatched); err != nil {
		_ = c.Finish(models.StateFailed, err.Error())
		return
	}
	dst, err := e.resolver.Resolve(ctx, rule, c)
	if err != nil {
		_ = c.Finish(models.StateUnmatched, "rule "+rule.Name+": "+err.Error())
		return
	}
	s.rule, s.dst = rule, dst

	if filepath.Clean(dst) == filepath.Clean(c.Path) {
		return
	}
	sum, err := e.hasher.Hash(ctx, c.Path)
	if err != nil {
		_ = c.Finish(models.StateFailed, err.Error())
		return
	}
	c.SetHash(sum)
}
