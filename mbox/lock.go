//go:build unix

package mbox

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// LockKind selects a shared (reader) or exclusive (writer) advisory lock.
type LockKind int

const (
	LockShared LockKind = iota
	LockExclusive
)

func (k LockKind) String() string {
	if k == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

func (k LockKind) how() int {
	if k == LockExclusive {
		return unix.LOCK_EX
	}
	return unix.LOCK_SH
}

// fileLock is a held flock(2) lock on one open file description.
// Locks taken through different open calls on the same file conflict,
// even within a single process.
type fileLock struct {
	f    *os.File
	kind LockKind
}

// lockFile blocks until the lock is granted.
func lockFile(f *os.File, kind LockKind) (*fileLock, error) {
	start := time.Now()
	if err := flock(f, kind.how()); err != nil {
		return nil, fmt.Errorf("%w: %s lock %s: %v", mserrors.ErrLock, kind, f.Name(), err)
	}
	metricLockWait.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	return &fileLock{f: f, kind: kind}, nil
}

// tryLockFile returns ErrMailboxLocked instead of blocking when another
// holder has a conflicting lock.
func tryLockFile(f *os.File, kind LockKind) (*fileLock, error) {
	err := flock(f, kind.how()|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return nil, mserrors.ErrMailboxLocked
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s lock %s: %v", mserrors.ErrLock, kind, f.Name(), err)
	}
	return &fileLock{f: f, kind: kind}, nil
}

// Release drops the lock. It only fails if the handle is no longer valid.
func (l *fileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := flock(l.f, unix.LOCK_UN)
	l.f = nil
	if err != nil {
		return fmt.Errorf("%w: unlock: %v", mserrors.ErrLock, err)
	}
	return nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
