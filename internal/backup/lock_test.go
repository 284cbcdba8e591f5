package backup

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), PipelineLockFile)
	lock := NewFileLock(path)
	assert.Equal(t, path, lock.Path())

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx)
	assert.True(t, IsType(err, BackupErrorTypeLock))

	// a second instance on the same file is excluded as well
	other := NewFileLock(path)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel2()
	_, err = other.Acquire(ctx2)
	assert.True(t, IsType(err, BackupErrorTypeLock))

	release()

	release, err = other.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestFileLock_Serializes(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), PipelineLockFile))

	var inside, maxInside int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			release, err := lock.Acquire(context.Background())
			if err == nil {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				release()
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
