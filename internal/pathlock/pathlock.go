// Package pathlock serializes reconciliation passes over the same local path
// with an advisory lock file next to it.
package pathlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/objmirror/internal/utils"
)

// Suffix is appended to the guarded path to form the lock file path.
const Suffix = ".lock"

const retryDelay = 100 * time.Millisecond

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("path is locked by another process")

// Lock guards one path.
type Lock struct {
	flock *flock.Flock
}

// New returns an unacquired lock for path.
func New(path string) *Lock {
	return &Lock{flock: flock.New(path + Suffix)}
}

func (l *Lock) Path() string {
	return l.flock.Path()
}

// TryLock acquires the lock or fails with ErrLocked without waiting.
func (l *Lock) TryLock() error {
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Acquire waits up to timeout for the lock. A zero timeout behaves like
// TryLock.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return l.TryLock()
	}
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := l.flock.TryLockContext(ctx, retryDelay)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLocked
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock. It is a no-op if this process does not hold it.
// The lock file is left in place so every process locks the same inode.
func (l *Lock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.flock.Path(), err)
	}
	return nil
}
