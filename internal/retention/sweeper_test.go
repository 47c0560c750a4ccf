package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/siteops/internal/logger"
)

var sweepNow = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

func touch(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	mtime := sweepNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func newTestSweeper(dir string, opts ...Option) *Sweeper {
	opts = append([]Option{WithClock(func() time.Time { return sweepNow })}, opts...)
	return NewSweeper(dir, logger.NewNop(), opts...)
}

func TestSweep_DeletesOnlyExpiredArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "db-20260401-023000.sql.gz", 61*day)
	touch(t, dir, "db-20260420-023000.sql.gz", 31*day)
	touch(t, dir, "db-20260510-023000.sql.gz", 20*day)
	touch(t, dir, "db-20260531-023000.sql.gz", time.Hour)
	touch(t, dir, "db-20260101-023000.sql", 90*day)
	touch(t, dir, "notes.txt", 90*day)
	touch(t, dir, "db-20260101-023000.sql.gz.partial", 90*day)

	result, err := newTestSweeper(dir).Sweep(context.Background(), Policy{MaxAgeDays: 30})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, 3, result.Ignored)
	assert.Zero(t, result.Failed())
	assert.Equal(t, []string{
		"db-20260101-023000.sql",
		"db-20260101-023000.sql.gz.partial",
		"db-20260510-023000.sql.gz",
		"db-20260531-023000.sql.gz",
		"notes.txt",
	}, remaining(t, dir))
}

func TestSweep_BoundaryIsStrict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "db-20260502-030000.sql.gz", 30*day)
	touch(t, dir, "db-20260502-025959.sql.gz", 30*day+time.Second)

	result, err := newTestSweeper(dir).Sweep(context.Background(), Policy{MaxAgeDays: 30})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{"db-20260502-030000.sql.gz"}, remaining(t, dir))
}

func TestSweep_FailedDeletionDoesNotStopSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "db-20260101-023000.sql.gz", 150*day)
	touch(t, dir, "db-20260102-023000.sql.gz", 149*day)
	touch(t, dir, "db-20260103-023000.sql.gz", 148*day)

	locked := filepath.Join(dir, "db-20260102-023000.sql.gz")
	s := newTestSweeper(dir)
	s.remove = func(path string) error {
		if path == locked {
			return &os.PathError{Op: "remove", Path: path, Err: os.ErrPermission}
		}
		return os.Remove(path)
	}

	result, err := s.Sweep(context.Background(), Policy{MaxAgeDays: 30})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Deleted)
	require.Equal(t, 1, result.Failed())
	assert.Equal(t, "db-20260102-023000.sql.gz", result.Failures[0].Name)
	assert.ErrorIs(t, result.Failures[0].Err, os.ErrPermission)
	assert.Contains(t, result.Summary(), "1 deletion(s) failed")
	assert.Equal(t, []string{"db-20260102-023000.sql.gz"}, remaining(t, dir))
}

func TestSweep_IgnoresDirectoriesAndSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "db-20260101-023000.sql.gz"), 0o750))

	target := filepath.Join(t.TempDir(), "precious")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o600))
	if err := os.Symlink(target, filepath.Join(dir, "db-20260102-023000.sql.gz")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	result, err := newTestSweeper(dir).Sweep(context.Background(), Policy{MaxAgeDays: 1})
	require.NoError(t, err)

	assert.Zero(t, result.Deleted)
	assert.Equal(t, 2, result.Ignored)
	assert.FileExists(t, target)
}

func TestSweep_MissingDirectory(t *testing.T) {
	t.Parallel()

	result, err := newTestSweeper(filepath.Join(t.TempDir(), "absent")).
		Sweep(context.Background(), Policy{MaxAgeDays: 30})

	require.NoError(t, err)
	assert.Zero(t, result.Deleted)
}

func TestSweep_InvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := newTestSweeper(t.TempDir()).Sweep(context.Background(), Policy{MaxAgeDays: 0})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestSweep_Cancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "db-20260101-023000.sql.gz", 150*day)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestSweeper(dir).Sweep(ctx, Policy{MaxAgeDays: 30})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, result.Deleted)
	assert.Len(t, remaining(t, dir), 1)
}

func TestSweep_ObserverReceivesResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "db-20260101-023000.sql.gz", 150*day)

	var got Result
	s := newTestSweeper(dir, WithObserver(func(r Result) { got = r }))

	_, err := s.Sweep(context.Background(), Policy{MaxAgeDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Deleted)
}
