// Package lock provides the mutual exclusion that keeps two backups from
// running against the same destination.
package lock

import (
	"context"
	"errors"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock held by another run")

// Release frees a held lock. It is safe to call more than once.
type Release func() error

// Locker acquires non-blocking exclusive locks by key.
type Locker interface {
	// TryLock acquires key or returns ErrLocked without waiting.
	TryLock(ctx context.Context, key string) (Release, error)
}
