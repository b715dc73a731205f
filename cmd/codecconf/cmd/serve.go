package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/database"
	internalhttp "github.com/jmylchreest/codecconf/internal/http"
	"github.com/jmylchreest/codecconf/internal/http/handlers"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/scheduler"
	"github.com/jmylchreest/codecconf/internal/suite"
	"github.com/jmylchreest/codecconf/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codecconf results server",
	Long: `Start the codecconf HTTP server and API.

The server provides:
- REST API for stored runs, their reports and per-case history
- Triggering of background suite runs
- Scheduled suite runs and result pruning
- Health check endpoints
- OpenAPI documentation at /docs`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("schedule", "", "cron expression for scheduled runs")
}

func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("schedule") {
		cfg.Suite.Schedule, _ = flags.GetString("schedule")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	applyServeFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := repository.NewRunRepository(db.DB)

	runner := suite.NewRunner(cfg, suite.WithStore(repo), suite.WithLogger(logger))
	launcher := suite.NewLauncher(ctx, runner)

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())
	server.Register(
		handlers.NewHealthHandler(version.Short()).WithDB(db.DB).WithRunTracker(launcher),
		handlers.NewRunHandler(repo).WithLauncher(launcher),
		handlers.NewCatalogHandler(runner.Registry(), repo),
		handlers.NewConfigHandler(cfg),
	)

	sched := scheduler.NewScheduler(launcher, repo, scheduler.Config{
		Schedule:  cfg.Suite.Schedule,
		Retention: cfg.Results.Retention.Duration(),
	}).WithLogger(logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()
	if next, ok := sched.NextRun(); ok {
		logger.Info("suite run scheduled",
			slog.String("schedule", cfg.Suite.Schedule),
			slog.Time("next_run", next),
		)
	}

	logger.Info("starting codecconf server",
		slog.String("address", cfg.Server.Address()),
		slog.String("database", db.Driver()),
		slog.String("version", version.Short()),
	)

	err = server.ListenAndServe(ctx)
	// A run in flight sees ctx cancelled and records itself as errored.
	launcher.Wait()
	return err
}
