package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileName is the lock file FileLocker keeps in each guarded directory.
const FileName = ".lock"

const dirPerm = 0o750

// FileLocker guards a directory with an advisory lock on <dir>/.lock. The
// lock excludes every process on the host, so a manual run and the
// scheduled run cannot overlap. It does not span hosts; use RedisLocker
// when several machines share the directory.
type FileLocker struct{}

// NewFileLocker creates a file-backed locker.
func NewFileLocker() *FileLocker {
	return &FileLocker{}
}

// TryLock implements Locker. key is the directory to guard; it is created
// when missing.
func (l *FileLocker) TryLock(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(key, dirPerm); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(filepath.Join(key, FileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, ErrLocked
	}

	var (
		once      sync.Once
		unlockErr error
	)
	return func() error {
		once.Do(func() { unlockErr = fl.Unlock() })
		return unlockErr
	}, nil
}
