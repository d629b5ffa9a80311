// Command streakd is the Emberlog streak notification service.
//
// Usage:
//
//	streakd serve              # scheduler worker + ops API
//	streakd run                # one scheduler pass, print the summary
//	streakd run --dry-run      # evaluate without sending or committing
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/emberlog/streakd/internal/api"
	"github.com/emberlog/streakd/internal/config"
	"github.com/emberlog/streakd/internal/db"
	"github.com/emberlog/streakd/internal/notify"
	"github.com/emberlog/streakd/internal/push"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "streakd",
		Short: "Emberlog streak notification service",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler worker and ops API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewStore(pool.Pool)
				gateway := push.NewClient(cfg.ExpoPushURL, cfg.ExpoAccessToken, logger)
				scheduler := notify.NewScheduler(store, store, gateway, logger)
				instant := notify.NewInstant(store, store, gateway, logger)

				// Background scheduler worker
				if cfg.SchedulerEnabled {
					go notify.StartWorker(ctx, scheduler, cfg.SchedulerInterval, logger)
				} else {
					logger.Info("Scheduler worker disabled (SCHEDULER_ENABLED=false)")
				}

				router := api.NewRouter(pool.Pool, scheduler, instant, cfg)
				addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
				srv := &http.Server{
					Addr:         addr,
					Handler:      router,
					ReadTimeout:  10 * time.Second,
					WriteTimeout: 30 * time.Second,
					IdleTimeout:  60 * time.Second,
				}

				go func() {
					logger.Info("Starting Streakd service",
						"addr", addr,
						"environment", cfg.Environment,
						"scheduler_interval", cfg.SchedulerInterval)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("Server failed", "error", err)
						os.Exit(1)
					}
				}()

				<-ctx.Done()
				logger.Info("Shutting down...")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Shutdown error", "error", err)
				}
				logger.Info("Server stopped")
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one scheduler pass and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewStore(pool.Pool)

				var gateway notify.Gateway = push.NewClient(cfg.ExpoPushURL, cfg.ExpoAccessToken, logger)
				var records notify.RecordStore = store
				if dryRun {
					gateway = dryRunGateway{}
					records = dryRunRecords{}
					logger.Info("Dry run: nothing will be sent or committed")
				}

				scheduler := notify.NewScheduler(store, records, gateway, logger)
				summary, err := scheduler.RunOnce(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				logger.Info("Run finished", "summary", summary.Summary())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate goals without sending or committing")
	return cmd
}

// dryRunGateway reports every message as delivered without sending.
type dryRunGateway struct{}

func (dryRunGateway) SendBatch(ctx context.Context, msgs []notify.Message) ([]notify.DeliveryOutcome, error) {
	outcomes := make([]notify.DeliveryOutcome, len(msgs))
	for i := range outcomes {
		outcomes[i] = notify.DeliveryOutcome{Status: notify.OutcomeDelivered}
	}
	return outcomes, nil
}

// dryRunRecords accepts every commit without writing.
type dryRunRecords struct{}

func (dryRunRecords) AppendNotification(ctx context.Context, rec notify.Record) error {
	return nil
}

func (dryRunRecords) CompareAndSwapNotificationTime(ctx context.Context, goalID string, expected *time.Time, value time.Time) (bool, error) {
	return true, nil
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withDeps handles config loading, DB connection, and context cancellation.
func withDeps(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
