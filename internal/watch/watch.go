// Package watch feeds filesystem changes into the organizer pipeline.
package watch

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/scan"
)

const (
	DefaultQuiescence  = 2 * time.Second
	DefaultSessionRoll = 10 * time.Minute
	DefaultQueueSize   = 64
)

// Runner processes one batch of entries. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, source iter.Seq[scan.Entry], opts engine.RunOptions) (*engine.Report, error)
}

// Options configure a Watcher.
type Options struct {
	// Quiescence is how long a file's size and mtime must stay unchanged.
	Quiescence time.Duration
	// SessionRoll bounds how long one journal session stays open.
	SessionRoll time.Duration
	// QueueSize bounds the intake channel between the watcher and the engine.
	QueueSize int
	// Scan filters watched paths exactly as a batch walk would.
	Scan scan.Options
}

func (o *Options) defaults() {
	if o.Quiescence <= 0 {
		o.Quiescence = DefaultQuiescence
	}
	if o.SessionRoll <= 0 {
		o.SessionRoll = DefaultSessionRoll
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

// ReportFunc is called after every window that saw at least one file.
type ReportFunc func(*engine.Report)

// Watcher turns change events into stable candidates.
type Watcher struct {
	root     string
	runner   Runner
	opts     Options
	logger   *slog.Logger
	onReport ReportFunc
}

// New returns a Watcher for root. onReport may be nil.
func New(root string, runner Runner, opts Options, logger *slog.Logger, onReport ReportFunc) *Watcher {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, runner: runner, opts: opts, logger: logger, onReport: onReport}
}

// observation is the last seen size and mtime of a pending file.
type observation struct {
	size    int64
	modTime time.Time
	changed time.Time
}

// Run watches the root until ctx is cancelled. It returns nil on
// cancellation and the first fatal pipeline error otherwise.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirsRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root), slog.Duration("quiescence", w.opts.Quiescence))

	intake := make(chan scan.Entry, w.opts.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.observe(gctx, fw, intake) })
	g.Go(func() error { return w.sessions(gctx, intake) })

	err = g.Wait()
	w.logger.Info("watcher: stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// observe collects change events and hands files over once they are quiet.
func (w *Watcher) observe(ctx context.Context, fw *fsnotify.Watcher, intake chan<- scan.Entry) error {
	pending := map[string]*observation{}
	tick := max(w.opts.Quiescence/4, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	note := func(path string) {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !w.opts.Scan.Admits(w.root, path, false) {
			return
		}
		if o, ok := pending[path]; ok && o.size == info.Size() && o.modTime.Equal(info.ModTime()) {
			return
		}
		pending[path] = &observation{size: info.Size(), modTime: info.ModTime(), changed: time.Now()}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			now := time.Now()
			for path, o := range pending {
				info, err := os.Lstat(path)
				if err != nil {
					delete(pending, path)
					continue
				}
				if info.Size() != o.size || !info.ModTime().Equal(o.modTime) {
					o.size, o.modTime, o.changed = info.Size(), info.ModTime(), now
					continue
				}
				if now.Sub(o.changed) < w.opts.Quiescence {
					continue
				}
				delete(pending, path)
				select {
				case intake <- scan.Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}:
					w.logger.Debug("watcher: stable", slog.String("path", path))
				case <-ctx.Done():
					return ctx.Err()
				}
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if !w.opts.Scan.Admits(w.root, ev.Name, true) {
						continue
					}
					if addErr := w.addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					// Files may land before the directory is watched.
					for e := range scan.Walk(ev.Name, scan.Options{}) {
						if e.Err == nil {
							note(e.Path)
						}
					}
					continue
				}
			}
			note(ev.Name)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// sessions runs one engine pass per window until ctx ends.
func (w *Watcher) sessions(ctx context.Context, intake <-chan scan.Entry) error {
	for ctx.Err() == nil {
		window, cancel := context.WithTimeout(ctx, w.opts.SessionRoll)
		rep, err := w.runner.Run(ctx, scan.FromChannel(window, intake), engine.RunOptions{})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("watcher: session failed", slog.String("error", err.Error()))
			return err
		}
		if rep.Scanned == 0 {
			continue
		}
		w.logger.Info("watcher: session closed",
			slog.String("session", rep.SessionID),
			slog.Int("scanned", rep.Scanned),
			slog.Int("committed", rep.Committed))
		if w.onReport != nil {
			w.onReport(rep)
		}
	}
	return ctx.Err()
}

// addDirsRecursive adds root and every admitted subdirectory to the watcher.
func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !w.opts.Scan.Admits(w.root, path, true) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
