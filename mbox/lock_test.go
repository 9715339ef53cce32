//go:build unix

package mbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mserrors "github.com/infodancer/mboxstore/errors"
)

func openRaw(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestTryLockConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox")
	a := openRaw(t, path)
	b := openRaw(t, path)

	tests := []struct {
		name     string
		held     LockKind
		wanted   LockKind
		conflict bool
	}{
		{name: "shared/shared", held: LockShared, wanted: LockShared},
		{name: "shared/exclusive", held: LockShared, wanted: LockExclusive, conflict: true},
		{name: "exclusive/shared", held: LockExclusive, wanted: LockShared, conflict: true},
		{name: "exclusive/exclusive", held: LockExclusive, wanted: LockExclusive, conflict: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			held, err := tryLockFile(a, tt.held)
			require.NoError(t, err)
			defer func() { require.NoError(t, held.Release()) }()

			got, err := tryLockFile(b, tt.wanted)
			if tt.conflict {
				assert.ErrorIs(t, err, mserrors.ErrMailboxLocked)
				return
			}
			require.NoError(t, err)
			require.NoError(t, got.Release())
		})
	}
}

func TestReleaseTwice(t *testing.T) {
	f := openRaw(t, filepath.Join(t.TempDir(), "inbox"))
	lk, err := lockFile(f, LockExclusive)
	require.NoError(t, err)
	require.NoError(t, lk.Release())
	require.NoError(t, lk.Release())
}

func TestWriterWaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox")
	mb := openTestMailbox(t, path, Options{})

	holder := openRaw(t, path)
	lk, err := tryLockFile(holder, LockShared)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := mb.Append([]AppendMessage{{Data: testMessage(1)}})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("append finished while a reader held the lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, lk.Release())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("append did not finish after the lock was released")
	}

	// readers share the lock with each other
	lk, err = tryLockFile(holder, LockShared)
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()
	uids, err := mb.UIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, uids)
}

func TestLockKindString(t *testing.T) {
	assert.Equal(t, "shared", LockShared.String())
	assert.Equal(t, "exclusive", LockExclusive.String())
}
