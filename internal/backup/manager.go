package backup

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/lock"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/storage"
)

const dirPerm = 0o750

var (
	// ErrBackupInProgress is returned when another run holds the directory lock.
	ErrBackupInProgress = errors.New("backup already in progress")
	// ErrArtifactExists is returned when this second's artifact already exists.
	ErrArtifactExists = errors.New("backup artifact already exists")
	// ErrEmptyDump is returned when the dump exited cleanly but wrote nothing.
	ErrEmptyDump = errors.New("dump produced no output")
)

// Observer is notified once per run with the final artifact.
type Observer func(artifact *Artifact, duration time.Duration)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to name artifacts.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver registers fn to receive every finished run.
func WithObserver(fn Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// Manager runs backups into one directory.
type Manager struct {
	dir          string
	dumpTimeout  time.Duration
	objectPrefix string
	dumper       Dumper
	uploader     storage.Uploader
	locker       lock.Locker
	log          logger.Logger
	now          func() time.Time
	observers    []Observer
	create       func(path string) (backupFile, error)
}

// backupFile is the destination a dump is compressed into.
type backupFile interface {
	io.Writer
	Sync() error
	Close() error
}

func createExclusive(path string) (backupFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewManager creates a backup manager.
func NewManager(
	cfg config.BackupConfig,
	dumper Dumper,
	uploader storage.Uploader,
	locker lock.Locker,
	log logger.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		dir:          cfg.Dir,
		dumpTimeout:  cfg.DumpTimeout,
		objectPrefix: cfg.ObjectPrefix,
		dumper:       dumper,
		uploader:     uploader,
		locker:       locker,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		create:       createExclusive,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the backup destination directory.
func (m *Manager) Dir() string { return m.dir }

// RunBackup takes one snapshot. It always returns a non-nil artifact; the
// error is non-nil exactly when the artifact failed. An upload failure leaves
// the run succeeded and is reported on Artifact.UploadErr.
func (m *Manager) RunBackup(ctx context.Context) (*Artifact, error) {
	start := time.Now()
	artifact := &Artifact{Timestamp: m.now(), Status: StatusFailed}

	err := m.run(ctx, artifact)
	if err != nil {
		artifact.Status = StatusFailed
		artifact.Reason = err.Error()
		artifact.Failure = FailureKind(err)
		artifact.SizeBytes = 0
		m.logFailure(artifact, err)
	} else {
		artifact.Status = StatusSucceeded
	}

	for _, obs := range m.observers {
		obs(artifact, time.Since(start))
	}

	return artifact, err
}

func (m *Manager) run(ctx context.Context, artifact *Artifact) error {
	dir, err := filepath.Abs(m.dir)
	if err != nil {
		return fmt.Errorf("resolve backup directory: %w", err)
	}

	if mkErr := os.MkdirAll(dir, dirPerm); mkErr != nil {
		return fmt.Errorf("create backup directory: %w", mkErr)
	}

	release, err := m.locker.TryLock(ctx, dir)
	if errors.Is(err, lock.ErrLocked) {
		return ErrBackupInProgress
	}
	if err != nil {
		return fmt.Errorf("acquire backup lock: %w", err)
	}
	defer func() {
		if releaseErr := release(); releaseErr != nil {
			m.log.Warn("Failed to release backup lock",
				logger.String("dir", dir),
				logger.Error(releaseErr),
			)
		}
	}()

	name := FileName(artifact.Timestamp)
	finalPath := filepath.Join(dir, name)
	artifact.LocalPath = finalPath

	if _, statErr := os.Lstat(finalPath); statErr == nil {
		return fmt.Errorf("%w: %s", ErrArtifactExists, finalPath)
	}

	m.log.Info("Starting database backup", logger.String("path", finalPath))

	size, err := m.dumpTo(ctx, finalPath)
	if err != nil {
		return err
	}
	artifact.SizeBytes = size

	m.log.Info("Database backup completed",
		logger.String("path", finalPath),
		logger.Int64("size_bytes", size),
	)

	m.upload(ctx, artifact, name)

	return nil
}

// dumpTo streams the dump through gzip into a partial file and renames it
// into place only after the dump and the compressor both finished cleanly.
func (m *Manager) dumpTo(ctx context.Context, finalPath string) (int64, error) {
	partialPath := finalPath + partialSuffix

	f, err := m.create(partialPath)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %s", ErrArtifactExists, partialPath)
		}
		return 0, fmt.Errorf("create backup file: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = f.Close()
		if rmErr := os.Remove(partialPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.log.Warn("Failed to remove partial backup",
				logger.String("path", partialPath),
				logger.Error(rmErr),
			)
		}
	}()

	dumpCtx := ctx
	if m.dumpTimeout > 0 {
		var cancel context.CancelFunc
		dumpCtx, cancel = context.WithTimeout(ctx, m.dumpTimeout)
		defer cancel()
	}

	gz := gzip.NewWriter(f)
	counter := &countingWriter{w: gz}

	dumpErr := m.dumper.Dump(dumpCtx, counter)
	// A failed write closes the dump's stdout, so its exit status only
	// reflects the broken pipe.
	if counter.err != nil {
		return 0, fmt.Errorf("write backup file: %w", counter.err)
	}
	if dumpErr != nil {
		return 0, dumpErr
	}
	if counter.n == 0 {
		return 0, ErrEmptyDump
	}

	if closeErr := gz.Close(); closeErr != nil {
		return 0, fmt.Errorf("finish compression: %w", closeErr)
	}
	if syncErr := f.Sync(); syncErr != nil {
		return 0, fmt.Errorf("sync backup file: %w", syncErr)
	}
	if closeErr := f.Close(); closeErr != nil {
		return 0, fmt.Errorf("close backup file: %w", closeErr)
	}
	if renameErr := os.Rename(partialPath, finalPath); renameErr != nil {
		return 0, fmt.Errorf("finalize backup file: %w", renameErr)
	}
	committed = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return 0, fmt.Errorf("stat backup file: %w", err)
	}
	return info.Size(), nil
}

func (m *Manager) upload(ctx context.Context, artifact *Artifact, name string) {
	if m.uploader == nil || !m.uploader.Enabled() {
		m.log.Debug("Remote storage not configured, skipping upload",
			logger.String("path", artifact.LocalPath),
		)
		return
	}

	key := path.Join(m.objectPrefix, name)
	ref, err := m.uploader.Upload(ctx, artifact.LocalPath, key)
	if err != nil {
		artifact.UploadErr = err
		m.log.Warn("Backup upload failed, local copy kept",
			logger.String("path", artifact.LocalPath),
			logger.String("object_key", key),
			logger.Error(err),
		)
		return
	}

	artifact.RemoteRef = ref
	m.log.Info("Backup uploaded",
		logger.String("path", artifact.LocalPath),
		logger.String("remote_ref", ref),
	)
}

func (m *Manager) logFailure(artifact *Artifact, err error) {
	kind := FailureKind(err)
	fields := []logger.Field{
		logger.String("path", artifact.LocalPath),
		logger.String("failure", kind),
		logger.Error(err),
	}

	if kind == FailureInProgress {
		m.log.Warn("Backup skipped, another run holds the lock", fields...)
		return
	}

	var dumpErr *DumpError
	if errors.As(err, &dumpErr) {
		fields = append(fields,
			logger.Int("exit_code", dumpErr.ExitCode),
			logger.String("stderr", dumpErr.Stderr),
		)
	}

	m.log.Error("Database backup failed", fields...)
}

// Failure kinds reported in logs and metrics.
const (
	FailureNone           = ""
	FailureInProgress     = "in_progress"
	FailureToolingMissing = "tooling_missing"
	FailureDumpRejected   = "dump_rejected"
	FailureEmptyDump      = "empty_dump"
	FailureExists         = "artifact_exists"
	FailureCancelled      = "cancelled"
	FailureOther          = "other"
)

// FailureKind classifies a RunBackup error.
func FailureKind(err error) string {
	var dumpErr *DumpError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrBackupInProgress):
		return FailureInProgress
	case errors.Is(err, ErrToolingMissing):
		return FailureToolingMissing
	case errors.As(err, &dumpErr):
		return FailureDumpRejected
	case errors.Is(err, ErrEmptyDump):
		return FailureEmptyDump
	case errors.Is(err, ErrArtifactExists):
		return FailureExists
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	default:
		return FailureOther
	}
}

// countingWriter counts bytes written through it and keeps the first
// write error.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
