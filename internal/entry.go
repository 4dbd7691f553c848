// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ordo/internal/api"
	"github.com/starford/ordo/internal/dedup"
	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/frontmatter"
	"github.com/starford/ordo/internal/journal"
	"github.com/starford/ordo/internal/mcpserver"
	"github.com/starford/ordo/internal/organizer"
	"github.com/starford/ordo/internal/resolver"
	"github.com/starford/ordo/internal/rules"
	"github.com/starford/ordo/internal/scan"
	"github.com/starford/ordo/internal/sse"
	"github.com/starford/ordo/internal/storage"
	"github.com/starford/ordo/internal/watch"
)

// App is a fully wired organizer for one root.
type App struct {
	cfg      *Config
	version  string
	logger   *slog.Logger
	out      io.Writer
	progress io.Writer
	scan     scan.Options
	db       *dedup.DB
	svc      *organizer.Service
}

// New builds the application from options. The config must already be validated.
func New(opts ...Option) (*App, error) {
	a := &application{out: os.Stdout, logOut: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	// Initialize structured JSON logger. stdout is kept for reports and MCP stdio.
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	stateDir := cfg.Organizer.ResolvedStateDir()
	logger.Debug("Configuration loaded",
		slog.String("root", cfg.Organizer.Root),
		slog.String("state_dir", stateDir),
		slog.String("index_path", cfg.Index.Path),
		slog.Int("rules", len(cfg.Rules)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	fs, err := storage.NewFS(cfg.Organizer.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	set, err := rules.Compile(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}

	app := &App{
		cfg:      cfg,
		version:  a.version,
		logger:   logger,
		out:      a.out,
		progress: a.progress,
		scan: scan.Options{
			MaxDepth: cfg.Organizer.MaxDepth,
			Exclude:  cfg.Organizer.Exclude,
			Skip:     []string{stateDir},
		},
	}

	// Cross-run canonical store; without it the dedup index lives for one process.
	ix := dedup.NewIndex(nil, logger)
	if cfg.Index.Path != "" {
		db, err := dedup.Open(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		app.db = db
		ix = dedup.NewIndex(db, logger)
	}

	journals, err := journal.NewDir(stateDir, fs, ix, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	res, err := resolver.New(fs.Root(), frontmatter.NewExtractor())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init resolver: %w", err)
	}
	eng, err := engine.New(set, fs, journals, res,
		engine.WithWorkers(cfg.Organizer.Workers),
		engine.WithDedup(cfg.Dedup.Enabled),
		engine.WithParanoid(cfg.Dedup.Paranoid),
		engine.WithIndex(ix),
		engine.WithLogger(logger),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	app.svc = organizer.NewService(eng, app.scan)
	return app, nil
}

// Service returns the organizer service.
func (a *App) Service() *organizer.Service { return a.svc }

// Close releases the canonical store.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Organize walks the root once. A real run first settles what an earlier
// crash left behind. The report is written even when the run aborts.
func (a *App) Organize(ctx context.Context, dryRun, asJSON bool) error {
	if !dryRun {
		if err := a.Recover(ctx, false); err != nil {
			return err
		}
	}
	if bar := a.progressBar(dryRun); bar != nil {
		a.svc.Engine().Subscribe(bar)
	}

	var (
		rep *engine.Report
		err error
	)
	if dryRun {
		rep, err = a.svc.Plan(ctx)
	} else {
		rep, err = a.svc.Organize(ctx)
	}
	if rep != nil {
		if werr := a.writeReport(rep, asJSON); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func (a *App) writeReport(rep *engine.Report, asJSON bool) error {
	if asJSON {
		return rep.WriteJSON(a.out)
	}
	return rep.WriteText(a.out)
}

// Undo reverts a session; an empty id selects the latest one.
func (a *App) Undo(ctx context.Context, id string) error {
	res, err := a.svc.Undo(ctx, id)
	if err != nil {
		return fmt.Errorf("undo: %w", err)
	}
	fmt.Fprintf(a.out, "session %s: reverted %d, already reverted %d, skipped %d\n",
		res.SessionID, res.Reverted, res.AlreadyReverted, res.Skipped)
	return nil
}

// Sessions lists the journal.
func (a *App) Sessions(ctx context.Context, asJSON bool) error {
	sessions, err := a.svc.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, "no sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(a.out, "%s  %s  entries=%d committed=%d rolled_back=%d pending=%d\n",
			s.ID, s.Started.Local().Format(time.DateTime), s.Entries, s.Committed, s.RolledBack, s.Pending)
	}
	return nil
}

// Recover settles Pending entries. Quiet runs print nothing when there was nothing to do.
func (a *App) Recover(ctx context.Context, verbose bool) error {
	res, err := a.svc.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if res.Sessions > 0 {
		a.logger.Warn("recover: settled interrupted sessions",
			slog.Int("sessions", res.Sessions),
			slog.Int("committed", res.Committed),
			slog.Int("rolled_back", res.RolledBack))
	}
	if verbose {
		fmt.Fprintf(a.out, "sessions %d: committed %d, rolled back %d\n", res.Sessions, res.Committed, res.RolledBack)
	}
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout until the client disconnects.
func (a *App) ServeMCP() error {
	return mcpserver.New(a.svc, a.version).ServeStdio()
}

// Watch organizes files as they settle until a signal arrives. With
// app.http.enabled the status API and the progress stream are served too.
func (a *App) Watch(ctx context.Context) error {
	if err := a.Recover(ctx, false); err != nil {
		return err
	}
	cfg := a.cfg
	logger := a.logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	a.svc.Engine().Subscribe(broker)

	watcher := watch.New(a.svc.Engine().Root(), a.svc, watch.Options{
		Quiescence:  time.Duration(cfg.Watch.Quiescence),
		SessionRoll: time.Duration(cfg.Watch.SessionRoll),
		QueueSize:   cfg.Watch.QueueSize,
		Scan:        a.scan,
	}, logger, nil)

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           a.router(broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(gCtx)
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		if httpServer != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Watch error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watch stopped")
	return nil
}

// router serves health checks and the status API under /api.
func (a *App) router(broker *sse.Broker) http.Handler {
	cfg := a.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(a.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	return r
}

// progressBar returns an observer drawing a spinner with a count, or nil
// when progress output is disabled or not a terminal.
func (a *App) progressBar(dryRun bool) engine.Observer {
	f, ok := a.progress.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return nil
	}
	desc := "organizing"
	if dryRun {
		desc = "planning"
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(f),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(f)
		}),
	)
	return engine.ObserverFunc(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventCandidateProcessed:
			_ = bar.Add(1)
		case engine.EventSummary:
			_ = bar.Finish()
		}
	})
}
