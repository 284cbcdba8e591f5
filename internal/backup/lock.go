package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	// PipelineLockFile guards export through catalog append, restore and cleanup
	PipelineLockFile = ".omnicrm_backup.lock"

	lockRetryDelay = 100 * time.Millisecond
)

// FileLock is a mutual-exclusion lock that holds across goroutines of this
// process and across processes sharing the same lock file.
type FileLock struct {
	path  string
	sem   chan struct{}
	flock *flock.Flock
}

// NewFileLock creates a lock backed by the file at path
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		sem:   make(chan struct{}, 1),
		flock: flock.New(path),
	}
}

// Path returns the lock file location
func (l *FileLock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (l *FileLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, NewLockError(fmt.Sprintf("timed out waiting for %s", l.path), ctx.Err())
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		<-l.sem
		return nil, NewLockError("failed to create lock directory", err)
	}

	locked, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		<-l.sem
		if err == nil {
			err = ctx.Err()
		}
		return nil, NewLockError(fmt.Sprintf("failed to acquire %s", l.path), err)
	}

	return func() {
		l.flock.Unlock()
		<-l.sem
	}, nil
}
