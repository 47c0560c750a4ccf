// Package retention deletes backup artifacts older than the retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/logger"
)

const day = 24 * time.Hour

// ErrInvalidPolicy is returned for a non-positive retention window.
var ErrInvalidPolicy = errors.New("max age days must be at least 1")

// Policy decides which artifacts are expired.
type Policy struct {
	MaxAgeDays int
}

// MaxAge returns the retention window.
func (p Policy) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * day
}

// Failure records one artifact that could not be deleted.
type Failure struct {
	Name string
	Err  error
}

// Result summarizes a sweep. Deleted counts only successful deletions.
type Result struct {
	Deleted  int
	Kept     int
	Ignored  int
	Failures []Failure
}

// Failed returns the number of eligible artifacts that could not be deleted.
func (r Result) Failed() int { return len(r.Failures) }

// Summary renders the failures for logging.
func (r Result) Summary() string {
	if len(r.Failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, f.Name+": "+f.Err.Error())
	}
	return fmt.Sprintf("%d deletion(s) failed: %s", len(r.Failures), strings.Join(parts, "; "))
}

// Observer is notified after every sweep.
type Observer func(Result)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source ages are measured against.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithObserver registers fn to receive every sweep result.
func WithObserver(fn Observer) Option {
	return func(s *Sweeper) { s.observers = append(s.observers, fn) }
}

// Sweeper removes expired artifacts from one backup directory. Files that do
// not follow the artifact naming convention are never touched.
type Sweeper struct {
	dir       string
	log       logger.Logger
	now       func() time.Time
	remove    func(name string) error
	observers []Observer
}

// NewSweeper creates a sweeper over dir.
func NewSweeper(dir string, log logger.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		dir:    dir,
		log:    log,
		now:    time.Now,
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes every artifact whose modification time is older than the
// policy window. A failed deletion is recorded and the sweep continues.
// The error is reserved for an invalid policy, an unreadable directory, or
// cancellation; a missing directory is an empty sweep.
func (s *Sweeper) Sweep(ctx context.Context, policy Policy) (Result, error) {
	var result Result

	if policy.MaxAgeDays < 1 {
		return result, ErrInvalidPolicy
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("Backup directory does not exist, nothing to sweep", logger.String("dir", s.dir))
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := s.now().Add(-policy.MaxAge())

	for _, entry := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.notify(result)
			return result, ctxErr
		}

		if !entry.Type().IsRegular() || !backup.MatchName(entry.Name()) {
			result.Ignored++
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			if !errors.Is(infoErr, fs.ErrNotExist) {
				result.Failures = append(result.Failures, Failure{Name: entry.Name(), Err: infoErr})
			}
			continue
		}

		if !info.ModTime().Before(cutoff) {
			result.Kept++
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if rmErr := s.remove(path); rmErr != nil {
			s.log.Warn("Failed to delete expired backup",
				logger.String("path", path),
				logger.Error(rmErr),
			)
			result.Failures = append(result.Failures, Failure{Name: entry.Name(), Err: rmErr})
			continue
		}

		result.Deleted++
		s.log.Debug("Deleted expired backup",
			logger.String("path", path),
			logger.Time("mod_time", info.ModTime()),
		)
	}

	s.log.Info("Retention sweep completed",
		logger.String("dir", s.dir),
		logger.Int("max_age_days", policy.MaxAgeDays),
		logger.Int("deleted", result.Deleted),
		logger.Int("kept", result.Kept),
		logger.Int("failed", result.Failed()),
	)
	if result.Failed() > 0 {
		s.log.Warn("Retention sweep had failures", logger.String("summary", result.Summary()))
	}

	s.notify(result)

	return result, nil
}

func (s *Sweeper) notify(result Result) {
	for _, obs := range s.observers {
		obs(result)
	}
}
