package lock_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/siteops/internal/lock"
	"github.com/jonesrussell/siteops/internal/logger"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.NewRedisLocker(client, ttl, logger.NewNop()), mr
}

func TestFileLocker_ExclusivePerDirectory(t *testing.T) {
	t.Parallel()

	l := lock.NewFileLocker()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")

	release, err := l.TryLock(ctx, dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, lock.FileName))

	_, err = l.TryLock(ctx, dir)
	require.ErrorIs(t, err, lock.ErrLocked)

	other, err := l.TryLock(ctx, t.TempDir())
	require.NoError(t, err, "different directories must not contend")
	require.NoError(t, other())

	require.NoError(t, release())
	require.NoError(t, release(), "release is idempotent")

	again, err := l.TryLock(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestFileLocker_SeparateLockersContend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	release, err := lock.NewFileLocker().TryLock(ctx, dir)
	require.NoError(t, err)

	_, err = lock.NewFileLocker().TryLock(ctx, dir)
	require.ErrorIs(t, err, lock.ErrLocked, "a second locker on the same directory must be refused")

	require.NoError(t, release())

	releaseB, err := lock.NewFileLocker().TryLock(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, releaseB())
}

// TestFileLocker_HelperProcess holds the lock for TestFileLocker_ExcludesOtherProcesses.
// It does nothing unless started by that test.
func TestFileLocker_HelperProcess(t *testing.T) {
	dir := os.Getenv(helperLockDirEnv)
	if dir == "" {
		return
	}

	release, err := lock.NewFileLocker().TryLock(context.Background(), dir)
	if err != nil {
		fmt.Fprintf(os.Stdout, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, "locked")

	// Hold until the parent closes stdin.
	_, _ = io.Copy(io.Discard, os.Stdin)
	_ = release()
	os.Exit(0)
}

const helperLockDirEnv = "SITEOPS_LOCK_HELPER_DIR"

func TestFileLocker_ExcludesOtherProcesses(t *testing.T) {
	dir := t.TempDir()

	cmd := exec.Command(os.Args[0], "-test.run=^TestFileLocker_HelperProcess$")
	cmd.Env = append(os.Environ(), helperLockDirEnv+"="+dir)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	})

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)

	_, err = lock.NewFileLocker().TryLock(context.Background(), dir)
	require.ErrorIs(t, err, lock.ErrLocked, "lock held by another process must be refused")

	require.NoError(t, stdin.Close())
	require.NoError(t, cmd.Wait())

	release, err := lock.NewFileLocker().TryLock(context.Background(), dir)
	require.NoError(t, err, "lock is free once the other process exits")
	require.NoError(t, release())
}

func TestFileLocker_OnlyOneConcurrentWinner(t *testing.T) {
	t.Parallel()

	l := lock.NewFileLocker()
	dir := t.TempDir()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		releases []lock.Release
		start    = make(chan struct{})
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if release, err := l.TryLock(context.Background(), dir); err == nil {
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, releases, 1)
	for _, release := range releases {
		require.NoError(t, release())
	}
}

func TestFileLocker_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lock.NewFileLocker().TryLock(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLocker_ExclusiveAcrossHolders(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	newLocker := func() *lock.RedisLocker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return lock.NewRedisLocker(client, time.Minute, nil)
	}
	a, b := newLocker(), newLocker()
	ctx := context.Background()

	release, err := a.TryLock(ctx, "/backups")
	require.NoError(t, err)
	assert.True(t, mr.Exists("siteops:lock:/backups"))

	_, err = b.TryLock(ctx, "/backups")
	require.ErrorIs(t, err, lock.ErrLocked)

	require.NoError(t, release())
	assert.False(t, mr.Exists("siteops:lock:/backups"))

	releaseB, err := b.TryLock(ctx, "/backups")
	require.NoError(t, err)
	require.NoError(t, releaseB())
}

func TestRedisLocker_ReleaseAfterExpiryReportsNotHeld(t *testing.T) {
	t.Parallel()

	l, mr := newRedisLocker(t, time.Minute)

	release, err := l.TryLock(context.Background(), "/backups")
	require.NoError(t, err)

	mr.Del("siteops:lock:/backups")

	assert.ErrorIs(t, release(), lock.ErrNotHeld)
}

func TestRedisLocker_KeepAliveExtendsTTL(t *testing.T) {
	t.Parallel()

	l, mr := newRedisLocker(t, 300*time.Millisecond)

	release, err := l.TryLock(context.Background(), "/backups")
	require.NoError(t, err)
	defer func() { _ = release() }()

	// miniredis only expires keys on FastForward, so a shrinking TTL would
	// stay put without the keepalive resetting it.
	mr.SetTTL("siteops:lock:/backups", 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return mr.TTL("siteops:lock:/backups") == 300*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRedisLocker_UnreachableRedis(t *testing.T) {
	t.Parallel()

	l, mr := newRedisLocker(t, time.Minute)
	mr.Close()

	_, err := l.TryLock(context.Background(), "/backups")
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrLocked)
}
