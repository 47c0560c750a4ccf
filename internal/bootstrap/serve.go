package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/siteops/internal/api"
	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/profiling"
	"github.com/jonesrussell/siteops/internal/scheduler"
)

// Serve runs the HTTP server and the backup scheduler until ctx is cancelled
// or a shutdown signal arrives. A backup in flight at shutdown is cancelled.
func Serve(ctx context.Context, cfg *config.Config, log logger.Logger, version string) error {
	// Phase 0: profiling (optional)
	profiler, err := profiling.Start(cfg.Profiling, version, log)
	if err != nil {
		return fmt.Errorf("profiling: %w", err)
	}
	defer func() {
		if stopErr := profiler.Stop(context.Background()); stopErr != nil {
			log.Warn("Failed to stop profiling", logger.Error(stopErr))
		}
	}()

	// Phase 1: components
	app, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Error("Failed to close connections", logger.Error(closeErr))
		}
	}()

	// Phase 2: scheduler
	sched, err := scheduler.New(scheduler.Config{
		BackupSchedule: cfg.Backup.Schedule,
		SweepSchedule:  cfg.Retention.Schedule,
		Policy:         app.Policy(),
	}, app.Backups, app.Sweeper, log.With(logger.String("component", "scheduler")),
		scheduler.WithBusyTracker(app.Metrics.TrackBackup),
	)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Phase 3: HTTP server
	server := api.NewServer(cfg.Server, cfg.Debug, log, api.Routes{
		Probe:         app.Probe,
		HealthTimeout: cfg.Health.RequestTimeout,
		Metrics:       app.Metrics.Handler(),
		Backups:       api.NewBackupHandler(sched, app.Backups.Dir()),
		JWTSecret:     cfg.Auth.JWTSecret,
		OperatorRPS:   cfg.Server.OperatorRPS,
		OperatorBurst: cfg.Server.OperatorBurst,
	})

	if runErr := server.RunWithGracefulShutdown(ctx); runErr != nil {
		log.Error("Server error", logger.Error(runErr))
		return runErr
	}

	log.Info("Server exited")
	return nil
}
