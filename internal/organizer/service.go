// Package organizer is the use-case layer shared by the CLI, the HTTP API
// and the MCP server.
package organizer

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/scan"
)

// SessionDetail is a session with every entry at its latest status.
type SessionDetail struct {
	journal.Summary
	Torn    bool            `json:"torn,omitempty"`
	Records []journal.Entry `json:"records"`
}

// Service serializes mutating operations on one root.
type Service struct {
	eng  *engine.Engine
	scan scan.Options

	// mu keeps runs, undos and recovery of this process from interleaving.
	mu sync.Mutex
}

// NewService creates a service that walks the engine's root with opts.
func NewService(eng *engine.Engine, opts scan.Options) *Service {
	return &Service{eng: eng, scan: opts}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *engine.Engine { return s.eng }

// Plan reports what a run would do without changing anything.
func (s *Service) Plan(ctx context.Context) (*engine.Report, error) {
	return s.Run(ctx, scan.Walk(s.eng.Root(), s.scan), engine.RunOptions{DryRun: true})
}

// Organize walks the root and commits every planned action.
func (s *Service) Organize(ctx context.Context) (*engine.Report, error) {
	return s.Run(ctx, scan.Walk(s.eng.Root(), s.scan), engine.RunOptions{})
}

// Run processes an arbitrary source, as watch mode does with its intake.
func (s *Service) Run(ctx context.Context, source iter.Seq[scan.Entry], opts engine.RunOptions) (*engine.Report, error) {
	if !opts.DryRun {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.eng.Run(ctx, source, opts)
}

// Undo reverts a session; an empty id selects the latest one.
func (s *Service) Undo(ctx context.Context, id string) (journal.UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Undo(ctx, id)
}

// Recover settles entries left Pending by an interrupted run.
func (s *Service) Recover(ctx context.Context) (journal.RecoverResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Recover(ctx)
}

// Sessions lists journaled sessions, oldest first.
func (s *Service) Sessions(_ context.Context) ([]journal.Summary, error) {
	return s.eng.Sessions()
}

// Session loads one session. Unknown ids yield apperr.ErrNotFound.
func (s *Service) Session(_ context.Context, id string) (*SessionDetail, error) {
	sess, err := s.eng.Session(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &SessionDetail{Summary: sess.Summary(), Torn: sess.Torn, Records: sess.Entries}, nil
}
