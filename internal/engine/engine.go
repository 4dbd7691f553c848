// Package engine drives candidates through classification, matching, dedup,
// conflict resolution and the journaled commit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/starford/ordo/internal/conflict"
	"github.com/starford/ordo/internal/dedup"
	"github.com/starford/ordo/internal/inspect"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/resolver"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/storage"
)

// Engine owns the shared state of every pipeline it runs: the dedup index and
// the per-destination locks are shared between a batch run and watch mode.
type Engine struct {
	rules     *rules.Set
	fs        storage.Provider
	journals  *journal.Dir
	resolver  *resolver.Resolver
	inspector *inspect.Inspector
	conflicts *conflict.Resolver
	locks     *conflict.KeyedMutex
	index     *dedup.Index
	hasher    *dedup.Hasher

	workers  int
	dedup    bool
	paranoid bool
	logger   *slog.Logger
	now      func() time.Time

	// createJournal starts a session; tests replace it to inject write failures.
	createJournal func() (*journal.Journal, error)

	mu        sync.RWMutex
	observers []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the prepare-stage concurrency (NumCPU when n <= 0).
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithDedup toggles hard-link deduplication.
func WithDedup(enabled bool) Option {
	return func(e *Engine) { e.dedup = enabled }
}

// WithParanoid verifies hash matches byte for byte before linking.
func WithParanoid(enabled bool) Option {
	return func(e *Engine) { e.paranoid = enabled }
}

// WithIndex shares a dedup index, for example one backed by the cross-run store.
func WithIndex(ix *dedup.Index) Option {
	return func(e *Engine) { e.index = ix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used by age predicates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New assembles an Engine.
func New(set *rules.Set, fs storage.Provider, journals *journal.Dir, res *resolver.Resolver, opts ...Option) (*Engine, error) {
	if set == nil || fs == nil || journals == nil || res == nil {
		return nil, fmt.Errorf("engine: rules, storage, journal and resolver are required")
	}
	e := &Engine{
		rules:     set,
		fs:        fs,
		journals:  journals,
		resolver:  res,
		inspector: inspect.New(),
		conflicts: conflict.New(fs),
		locks:     conflict.NewKeyedMutex(),
		dedup:     true,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if e.index == nil {
		e.index = dedup.NewIndex(nil, e.logger)
	}
	e.hasher = dedup.NewHasher(e.workers)
	e.createJournal = journals.Create
	return e, nil
}

// Root returns the organizer root.
func (e *Engine) Root() string { return e.resolver.Root() }

// Subscribe registers an observer for progress events.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	e.mu.RLock()
	obs := e.observers
	e.mu.RUnlock()
	for _, o := range obs {
		o.Observe(ev)
	}
}

// Undo reverts a session; an empty id selects the latest one.
func (e *Engine) Undo(ctx context.Context, sessionID string) (journal.UndoResult, error) {
	return e.journals.Undo(ctx, sessionID)
}

// Recover settles entries left Pending by an interrupted run.
func (e *Engine) Recover(ctx context.Context) (journal.RecoverResult, error) {
	return e.journals.Recover(ctx)
}

// Sessions lists journaled sessions, oldest first.
func (e *Engine) Sessions() ([]journal.Summary, error) {
	return e.journals.Sessions()
}

// Session loads one session with its entries.
func (e *Engine) Session(id string) (*journal.Session, error) {
	return e.journals.Load(id)
}
