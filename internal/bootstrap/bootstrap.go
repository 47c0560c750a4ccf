// Package bootstrap wires configuration into the running components.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/database"
	"github.com/jonesrussell/siteops/internal/health"
	"github.com/jonesrussell/siteops/internal/lock"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/metrics"
	"github.com/jonesrussell/siteops/internal/redis"
	"github.com/jonesrussell/siteops/internal/retention"
	"github.com/jonesrussell/siteops/internal/storage"
)

// App holds the wired components shared by every command.
type App struct {
	Config  *config.Config
	Log     logger.Logger
	DB      *sqlx.DB
	Redis   *goredis.Client
	Metrics *metrics.Metrics
	Probe   *health.Probe
	Backups *backup.Manager
	Sweeper *retention.Sweeper
}

// LoadConfig resolves the config path and loads the validated configuration.
func LoadConfig(explicitPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.ResolvePath(explicitPath))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateLogger creates the process logger and registers it as the default.
func CreateLogger(cfg *config.Config, version string) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		Debug: cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(
		logger.String("service", "siteops"),
		logger.String("version", version),
	)
	logger.SetDefault(log)
	return log, nil
}

// New wires every component. Connections are lazy: an unreachable database
// or cache shows up in the health report, not as a startup failure.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	app.DB = db

	rdb, err := redis.NewLazyClient(cfg.Redis)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	app.Redis = rdb

	app.Probe = health.NewProbe(cfg.Health.CheckTimeout,
		[]health.Check{
			health.DatabaseCheck(db),
			health.CacheCheck(rdb, cfg.Health.SentinelKey, cfg.Health.SentinelTTL),
		},
		health.WithObserver(app.Metrics.ObserveCheck),
		health.WithLogger(log),
	)

	uploader, err := storage.NewUploader(cfg.Storage, log)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	app.Backups = backup.NewManager(cfg.Backup,
		backup.NewPgDumper(cfg.Backup.DumpBinary, cfg.Database),
		uploader,
		newLocker(cfg.Backup, rdb, log),
		log.With(logger.String("component", "backup")),
		backup.WithObserver(app.Metrics.ObserveBackup),
	)

	app.Sweeper = retention.NewSweeper(cfg.Backup.Dir,
		log.With(logger.String("component", "retention")),
		retention.WithObserver(app.Metrics.ObserveSweep),
	)

	return app, nil
}

func newLocker(cfg config.BackupConfig, rdb *goredis.Client, log logger.Logger) lock.Locker {
	if cfg.LockBackend == config.LockBackendRedis {
		log.Info("Using distributed backup lock", logger.Duration("ttl", cfg.LockTTL))
		return lock.NewRedisLocker(rdb, cfg.LockTTL, log)
	}
	return lock.NewFileLocker()
}

// Policy returns the configured retention policy.
func (a *App) Policy() retention.Policy {
	return retention.Policy{MaxAgeDays: a.Config.Retention.MaxAgeDays}
}

// Close releases the connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := database.Close(a.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
