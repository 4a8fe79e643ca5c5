// Package lock serializes cross-process operations on the knowledge
// directory with advisory file locks.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Well-known lock names.
const (
	NameKB     = "kb"
	NameCodify = "codify"
)

const retryInterval = 100 * time.Millisecond

// Manager hands out named advisory locks rooted in one directory.
// Locks are per-process-tree; they guard against concurrent CLI
// invocations, not against threads in the same process.
type Manager struct {
	dir string
}

// NewManager creates a manager that stores lock files under dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Acquire takes the named lock, waiting up to timeout. It returns a
// release function that must be called exactly once. A zero timeout
// tries once without waiting.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) (func(), error) {
	fl := flock.New(filepath.Join(m.dir, name+".lock"))

	if timeout <= 0 {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s lock: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s lock is held by another process", name)
		}
		return func() { _ = fl.Unlock() }, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, retryInterval)
	if err != nil {
		if lockCtx.Err() != nil {
			return nil, fmt.Errorf("timed out waiting for %s lock: %w", name, lockCtx.Err())
		}
		return nil, fmt.Errorf("failed to acquire %s lock: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s lock is held by another process", name)
	}
	return func() { _ = fl.Unlock() }, nil
}
