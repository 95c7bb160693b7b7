package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/racehub/raceday-worker/internal/config"
	"github.com/racehub/raceday-worker/internal/database"
	"github.com/racehub/raceday-worker/internal/priority"
	"github.com/racehub/raceday-worker/internal/provider"
	"github.com/racehub/raceday-worker/internal/provider/runreg"
	"github.com/racehub/raceday-worker/internal/ratelimit"
	"github.com/racehub/raceday-worker/internal/reconcile"
	"github.com/racehub/raceday-worker/internal/repository"
	"github.com/racehub/raceday-worker/internal/scheduler"
	"github.com/racehub/raceday-worker/internal/server"
	"github.com/racehub/raceday-worker/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:           "raceday-worker",
		Short:         "Multi-tenant race registration and timing sync worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newBackfillCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything both commands need wired the same way.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	partners *repository.PartnerRepository
	creds    *repository.CredentialRepository
	events   *repository.EventRepository
	checks   *repository.CheckpointRepository
	outcomes *repository.OutcomeRepository
	executor *service.SyncExecutor
	breaker  *scheduler.Breaker
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected")

	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	logger.Info("migrations completed")

	partnerRepo := repository.NewPartnerRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	eventRepo := repository.NewEventRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	resultRepo := repository.NewResultRepository(db)
	outcomeRepo := repository.NewOutcomeRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)

	limiter := ratelimit.New(cfg.Scheduler.RateLimit.DefaultBudget, cfg.Scheduler.RateLimit.Window.Std())
	for name, pl := range cfg.Scheduler.RateLimit.Providers {
		if pl.GlobalBudget > 0 {
			limiter.SetBudget(ratelimit.ProviderKey(name), pl.GlobalBudget, pl.GlobalWindow.Std())
		}
	}

	registry := provider.NewRegistry(runreg.New())
	matcher := reconcile.New(eventRepo, cfg.Scheduler.Reconcile, logger)

	executor := service.NewSyncExecutor(
		credRepo, eventRepo, participantRepo, resultRepo, outcomeRepo,
		registry, limiter, matcher, cfg.Scheduler, logger,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		partners: partnerRepo,
		creds:    credRepo,
		events:   eventRepo,
		checks:   checkpointRepo,
		outcomes: outcomeRepo,
		executor: executor,
		breaker:  scheduler.NewBreaker(cfg.Scheduler.Breaker),
	}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			engine := scheduler.NewEngine(
				a.events, a.creds, a.executor,
				priority.NewClassifier(a.cfg.Scheduler.Priority),
				a.breaker, a.cfg.Scheduler, a.logger,
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			engineDone := make(chan struct{})
			go func() {
				engine.Run(ctx)
				close(engineDone)
			}()

			var srv *server.Server
			httpErr := make(chan error, 1)
			if a.cfg.HTTPAddr != "" {
				srv = server.New(a.cfg.HTTPAddr, a.events, a.outcomes, a.breaker, a.logger)
				go func() {
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						httpErr <- err
					}
				}()
			}

			select {
			case err := <-httpErr:
				cancel()
				return err
			case <-sigChan:
				a.logger.Info("shutdown signal received")
				cancel()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
				time.Duration(a.cfg.ShutdownTimeout)*time.Second)
			defer shutdownCancel()

			if srv != nil {
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("http shutdown error", zap.Error(err))
				}
			}
			select {
			case <-engineDone:
			case <-shutdownCtx.Done():
				a.logger.Warn("shutdown timeout exceeded")
			}

			a.logger.Info("worker stopped")
			return nil
		},
	}
}

func newBackfillCmd() *cobra.Command {
	var (
		partner   string
		maxEvents int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Bulk-import historical events for onboarding partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			engine := service.NewBackfillEngine(
				a.partners, a.creds, a.events, a.checks, a.executor,
				a.cfg.Scheduler.Backfill, a.logger,
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stats, err := engine.Run(ctx, service.BackfillOptions{
				Partner:   partner,
				MaxEvents: maxEvents,
				DryRun:    dryRun,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Backfill complete: %d partner(s), %d event(s), %d record(s), %d skipped\n",
				stats.Partners, stats.Events, stats.Records, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&partner, "partner", "", "limit the run to one partner id")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "stop after this many events (0 = no cap)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned work without writing")
	return cmd
}
