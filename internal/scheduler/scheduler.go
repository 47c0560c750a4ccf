// Package scheduler runs backups and retention sweeps on cron schedules and
// on operator request, off the request path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/retention"
)

var (
	// ErrBackupRunning is returned when a trigger arrives while a backup runs.
	ErrBackupRunning = errors.New("backup already running")
	// ErrNotRunning is returned when triggering a stopped scheduler.
	ErrNotRunning = errors.New("scheduler not running")
)

// BackupRunner takes one backup. *backup.Manager satisfies it.
type BackupRunner interface {
	RunBackup(ctx context.Context) (*backup.Artifact, error)
}

// Sweeper prunes expired backups. *retention.Sweeper satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, policy retention.Policy) (retention.Result, error)
}

// Config holds the schedules. An empty schedule disables that job.
type Config struct {
	BackupSchedule string
	SweepSchedule  string
	Policy         retention.Policy
}

// Scheduler owns the cron loop and every backup goroutine it starts.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	cfg     Config
	backups BackupRunner
	sweeper Sweeper
	log     logger.Logger

	mu        sync.Mutex
	started   bool
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	trackBusy func() func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBusyTracker registers fn to be called when a backup starts; the
// returned func is called when it ends.
func WithBusyTracker(fn func() func()) Option {
	return func(s *Scheduler) { s.trackBusy = fn }
}

// New validates the schedules and creates a stopped scheduler.
func New(cfg Config, backups BackupRunner, sweeper Sweeper, log logger.Logger, opts ...Option) (*Scheduler, error) {
	// Standard 5-field cron (minute hour day month weekday).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLog := newCronLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLog))),
		parser:    parser,
		cfg:       cfg,
		backups:   backups,
		sweeper:   sweeper,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		trackBusy: func() func() { return func() {} },
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.BackupSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.BackupSchedule, s.scheduledBackup); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.BackupSchedule, err)
		}
	}
	if cfg.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.SweepSchedule, s.scheduledSweep); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
	}

	return s, nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.log.Info("Starting backup scheduler",
		logger.String("backup_schedule", s.cfg.BackupSchedule),
		logger.String("sweep_schedule", s.cfg.SweepSchedule),
		logger.Int("max_age_days", s.cfg.Policy.MaxAgeDays),
	)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
}

// Stop cancels any running backup, which kills its dump and removes the
// partial file, then waits for every job to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("Stopping backup scheduler")

		s.mu.Lock()
		s.started = false
		s.mu.Unlock()

		s.cancel()

		// Stop waits for running cron jobs; manual runs are tracked by wg.
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()

		s.wg.Wait()
		s.log.Info("Backup scheduler stopped")
	})
}

// TriggerBackup starts a backup in the background and returns immediately.
func (s *Scheduler) TriggerBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotRunning
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBackupRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runBackup("manual")
	}()

	return nil
}

// Sweep runs a retention sweep now with policy.
func (s *Scheduler) Sweep(ctx context.Context, policy retention.Policy) (retention.Result, error) {
	return s.sweeper.Sweep(ctx, policy)
}

// Policy returns the configured retention policy.
func (s *Scheduler) Policy() retention.Policy { return s.cfg.Policy }

// BackupRunning reports whether a backup is in flight.
func (s *Scheduler) BackupRunning() bool { return s.running.Load() }

func (s *Scheduler) scheduledBackup() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("Skipping scheduled backup, previous run still in progress")
		return
	}
	defer s.running.Store(false)

	s.runBackup("schedule")
}

func (s *Scheduler) runBackup(trigger string) {
	done := s.trackBusy()
	defer done()

	log := s.log.With(logger.String("trigger", trigger))

	artifact, err := s.backups.RunBackup(s.ctx)
	if err != nil {
		// The manager logs failure detail.
		return
	}

	fields := []logger.Field{
		logger.String("path", artifact.LocalPath),
		logger.Int64("size_bytes", artifact.SizeBytes),
	}
	if artifact.RemoteRef != "" {
		fields = append(fields, logger.String("remote_ref", artifact.RemoteRef))
	}
	if artifact.UploadErr != nil {
		fields = append(fields, logger.String("upload_error", artifact.UploadErr.Error()))
	}
	log.Info("Backup run finished", fields...)
}

func (s *Scheduler) scheduledSweep() {
	if _, err := s.sweeper.Sweep(s.ctx, s.cfg.Policy); err != nil {
		s.log.Error("Retention sweep failed", logger.Error(err))
	}
}
