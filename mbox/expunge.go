//go:build unix

package mbox

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// Expunge rewrites the mailbox without the messages marked deleted and
// with a UID header in every message. It does nothing when there is
// nothing to remove and every UID is already on disk.
func (mb *Mailbox) Expunge() error {
	return mb.writeLocked(mb.expungeLocked)
}

// expungeLocked must be called with the exclusive lock held.
func (mb *Mailbox) expungeLocked() error {
	if mb.writtenUID >= mb.maxUID && mb.deleted == 0 && !mb.changed {
		return nil
	}
	start := time.Now()
	err := mb.compact()
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricExpunge.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

func (mb *Mailbox) compact() error {
	buf, err := mb.mp.View().Bytes()
	if err != nil {
		return err
	}
	live := mb.ix.live()
	var want int64
	for i, m := range live {
		want += compactedSize(buf, m, i == len(live)-1)
	}
	removed := mb.deleted

	dir, base := filepath.Split(mb.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".expunge-*")
	if err != nil {
		return fmt.Errorf("%w: create temporary file: %v", mserrors.ErrStorage, err)
	}
	lk, err := tryLockFile(tmp, LockExclusive)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: lock temporary file: %w", mserrors.ErrStorage, err)
	}
	fail := func(err error) error {
		mb.release(lk)
		_ = tmp.Close()
		mb.log.Error("expunge failed, temporary file left in place",
			slog.String("temp", tmp.Name()),
			slog.Any("error", err))
		return fmt.Errorf("%w: expunge %s: %v", mserrors.ErrStorage, mb.path, err)
	}

	bw := bufio.NewWriter(tmp)
	var n int64
	for i, m := range live {
		w, err := writeCompacted(bw, buf, m, i == len(live)-1)
		n += w
		if err != nil {
			return fail(err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if n != want {
		return fail(fmt.Errorf("wrote %d bytes, expected %d", n, want))
	}
	if st, err := mb.f.Stat(); err == nil {
		if err := tmp.Chmod(st.Mode().Perm()); err != nil {
			return fail(err)
		}
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), mb.path); err != nil {
		return fail(err)
	}
	if err := syncDir(dir); err != nil {
		mb.log.Warn("sync mailbox directory", slog.Any("error", err))
	}

	// The temporary file is now the mailbox. Its lock was taken before the
	// rename, so other processes never see it unlocked.
	if err := mb.mp.Unmap(); err != nil {
		mb.log.Warn("unmap old mailbox", slog.Any("error", err))
	}
	old := mb.held
	mb.held = lk
	mb.release(old)
	_ = mb.f.Close()
	mb.f = tmp
	mb.mp = newMapping(tmp, true, mb.noMmap)
	if err := mb.mp.Map(n); err != nil {
		mb.size = -1
		return err
	}

	mb.ix = newIndex()
	if err := mb.parseAll(); err != nil {
		mb.size = -1
		return err
	}
	mb.writtenUID = mb.maxUID
	mb.changed = false
	mb.deleted = 0
	metricExpunged.Add(float64(removed))
	mb.log.Info("mailbox expunged",
		slog.Int("removed", removed),
		slog.Int("kept", len(live)),
		slog.Int64("size", n))
	return mb.snapshot()
}

// syncDir flushes directory metadata so a rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %v", err)
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
