package index

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/quickparts/searchd/internal/errors"
)

// RunLock excludes concurrent pipeline runs on one host. Two runs
// racing the same alias would fight over index names and retention, so
// a second run refuses to start instead of queueing.
type RunLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRunLock creates a run lock at path. The lock is not held until
// Acquire succeeds.
func NewRunLock(path string) *RunLock {
	return &RunLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Acquire takes the lock without blocking. A held lock is an error,
// not a wait.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.New(errors.ErrCodeInternal, "cannot create lock directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "cannot acquire run lock", err).
			WithDetail("path", l.path)
	}
	if !acquired {
		return errors.New(errors.ErrCodeInternal, "another index run holds the lock", nil).
			WithDetail("path", l.path).
			WithSuggestion("wait for the active run to finish; remove the lock file only if no run is alive")
	}

	l.locked = true
	return nil
}

// Release frees the lock. Safe to call on an unheld lock.
func (l *RunLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}

// Path returns the lock file location.
func (l *RunLock) Path() string {
	return l.path
}
