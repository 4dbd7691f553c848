package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ordo/internal"
	pkgconfig "github.com/starford/ordo/pkg/config"
)

var version = "dev"

type appAction func(ctx context.Context, cmd *cli.Command, app *internal.App) error

// withApp loads the config and wires the application around a command.
func withApp(fn appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		fallback := filepath.Join(xdg.ConfigHome, "ordo", "config.yaml")
		if err := pkgconfig.LoadWithDefaults(configPath, fallback, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if root := cmd.String("root"); root != "" {
			cfg.Organizer.Root = root
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
			internal.WithProgress(os.Stderr),
		}

		app, err := internal.New(opts...)
		if err != nil {
			return fmt.Errorf("app init error: %w", err)
		}
		defer app.Close()

		return fn(ctx, cmd, app)
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Print machine-readable JSON",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "ordo",
		Usage:   "Reversible, content-aware file organizer",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "ordo.yaml",
				Value:       "ordo.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Directory to organize, overriding organizer.root",
				Sources: cli.EnvVars("ORDO_ROOT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Organize the root once",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "dry-run",
						Aliases: []string{"n"},
						Usage:   "Plan without touching the filesystem",
					},
					jsonFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					return app.Organize(ctx, cmd.Bool("dry-run"), cmd.Bool("json"))
				}),
			},
			{
				Name:      "undo",
				Usage:     "Revert a session, the latest one by default",
				ArgsUsage: "[session-id]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					return app.Undo(ctx, cmd.Args().First())
				}),
			},
			{
				Name:  "watch",
				Usage: "Organize new files as they settle",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error {
					return app.Watch(ctx)
				}),
			},
			{
				Name:  "sessions",
				Usage: "List journaled sessions",
				Flags: []cli.Flag{jsonFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					return app.Sessions(ctx, cmd.Bool("json"))
				}),
			},
			{
				Name:  "recover",
				Usage: "Settle changes left pending by an interrupted run",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error {
					return app.Recover(ctx, true)
				}),
			},
			{
				Name:  "mcp",
				Usage: "Serve organizer tools over MCP stdio",
				Action: withApp(func(_ context.Context, _ *cli.Command, app *internal.App) error {
					return app.ServeMCP()
				}),
			},
		},
	}

	// SIGINT/SIGTERM cancel the command; run and undo stop between actions.
	ctx, stop := internal.SignalContext(context.Background())
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
