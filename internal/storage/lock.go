package storage

// lock.go implements the cross-process advisory lock every writeable
// partition uses to enforce the single-writer discipline (spec §4.2).
//
// A lock is a `<partition>.lock` file next to the partition's data file.
// Acquisition uses an OS-level advisory flock (LOCK_EX|LOCK_NB), polled on
// a short interval rather than a blocking Flock call, so acquisition is
// bounded by a hard timeout instead of blocking indefinitely if another
// process holds the lock.

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockPollInterval = 50 * time.Millisecond
	lockTimeout      = 10 * time.Second
)

// FileLock is a bounded-timeout exclusive advisory lock on a single file.
type FileLock struct {
	path string
	file *os.File
}

// AcquireFileLock attempts to exclusively lock path, polling every
// lockPollInterval until either the lock is acquired or lockTimeout
// elapses. On success the lock file contains this process's PID, for
// diagnosing a stuck lock.
func AcquireFileLock(ctx context.Context, path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(lockTimeout)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("storage: flock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("%w: %s held by another writer after %s", ErrLockTimeout, path, lockTimeout)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	if err := f.Truncate(0); err == nil {
		f.Seek(0, 0)
		f.WriteString(strconv.Itoa(os.Getpid()))
		f.Sync()
	}

	return &FileLock{path: path, file: f}, nil
}

// Release unlocks and closes the underlying lock file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
