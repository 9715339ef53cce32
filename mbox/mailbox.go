//go:build unix

package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// Options configures how a mailbox file is opened.
type Options struct {
	// ReadOnly opens the file without write access. A file that cannot be
	// opened for writing is opened read-only even when this is false.
	ReadOnly bool

	// NoMmap reads the file with buffered I/O instead of mapping it.
	NoMmap bool

	// WrittenUID is the last UID known to be materialized, usually read
	// from the folder's sidecar file. New UIDs continue after it.
	WrittenUID uint32

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Mailbox is one mbox file with its UID index.
//
// Every exported method takes the advisory lock, checks whether the file
// changed since the last call, does its work and releases the lock before
// returning. A Mailbox is not safe for concurrent use by multiple
// goroutines.
type Mailbox struct {
	path     string
	readOnly bool
	noMmap   bool
	log      *slog.Logger

	f    *os.File
	mp   *mapping
	held *fileLock

	// snapshot of the file when it was last indexed
	size  int64
	mtime time.Time

	maxUID     uint32
	writtenUID uint32
	changed    bool
	deleted    int
	epoch      uint64 // bumped when a full parse issues pending UIDs

	ix     *index
	closed bool
}

// OpenMailbox opens or creates the mbox file at path and indexes it.
func OpenMailbox(path string, opts Options) (*Mailbox, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	mb := &Mailbox{
		path:       path,
		readOnly:   opts.ReadOnly,
		noMmap:     opts.NoMmap,
		log:        log.With(slog.String("mailbox", path)),
		writtenUID: opts.WrittenUID,
		maxUID:     opts.WrittenUID,
		size:       -1,
		ix:         newIndex(),
	}
	if err := mb.open(); err != nil {
		return nil, err
	}
	if err := mb.Validate(); err != nil {
		mb.closeFile()
		return nil, err
	}
	return mb, nil
}

func (mb *Mailbox) open() error {
	var f *os.File
	var err error
	if !mb.readOnly {
		f, err = os.OpenFile(mb.path, os.O_RDWR|os.O_CREATE, 0600)
		if errors.Is(err, os.ErrPermission) {
			mb.log.Info("mailbox not writable, opening read-only")
			mb.readOnly = true
		}
	}
	if mb.readOnly {
		f, err = os.Open(mb.path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, mb.path)
		}
		return fmt.Errorf("%w: open %s: %v", mserrors.ErrStorage, mb.path, err)
	}
	mb.f = f
	mb.mp = newMapping(f, !mb.readOnly, mb.noMmap)
	return nil
}

func (mb *Mailbox) closeFile() {
	if mb.mp != nil {
		if err := mb.mp.Unmap(); err != nil {
			mb.log.Warn("unmap failed", slog.Any("error", err))
		}
	}
	if mb.f != nil {
		_ = mb.f.Close()
		mb.f = nil
	}
}

// reopen replaces the handle after another process renamed a new file
// over the path.
func (mb *Mailbox) reopen() error {
	mb.closeFile()
	mb.size = -1
	return mb.open()
}

// lock takes the advisory lock and makes sure the handle still refers to
// the file at the mailbox path.
func (mb *Mailbox) lock(kind LockKind) error {
	for {
		lk, err := lockFile(mb.f, kind)
		if err != nil {
			return err
		}
		same, err := mb.sameFile()
		if err != nil {
			mb.release(lk)
			return err
		}
		if same {
			mb.held = lk
			return nil
		}
		mb.log.Debug("mailbox replaced on disk, reopening")
		mb.release(lk)
		if err := mb.reopen(); err != nil {
			return err
		}
	}
}

func (mb *Mailbox) sameFile() (bool, error) {
	onDisk, err := os.Stat(mb.path)
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", mserrors.ErrStorage, mb.path, err)
	}
	open, err := mb.f.Stat()
	if err != nil {
		return false, fmt.Errorf("%w: fstat %s: %v", mserrors.ErrStorage, mb.path, err)
	}
	return os.SameFile(onDisk, open), nil
}

func (mb *Mailbox) release(lk *fileLock) {
	if err := lk.Release(); err != nil {
		mb.log.Warn("mailbox unlock failed", slog.Any("error", err))
	}
}

func (mb *Mailbox) unlock() {
	lk := mb.held
	mb.held = nil
	mb.release(lk)
}

// refresh remaps and fully reparses the file if its size or modification
// time differ from the last snapshot.
func (mb *Mailbox) refresh() error {
	st, err := mb.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: fstat %s: %v", mserrors.ErrStorage, mb.path, err)
	}
	if st.Size() == mb.size && st.ModTime().Equal(mb.mtime) {
		return nil
	}
	if err := mb.mp.Remap(st.Size()); err != nil {
		return err
	}
	if err := mb.parseAll(); err != nil {
		return err
	}
	mb.size, mb.mtime = st.Size(), st.ModTime()
	return nil
}

// snapshot records the current size and mtime after our own mutation so
// the next validation does not reparse.
func (mb *Mailbox) snapshot() error {
	st, err := mb.f.Stat()
	if err != nil {
		mb.size = -1
		return fmt.Errorf("%w: fstat %s: %v", mserrors.ErrStorage, mb.path, err)
	}
	mb.size, mb.mtime = st.Size(), st.ModTime()
	return nil
}

func (mb *Mailbox) parseAll() error {
	buf, err := mb.mp.View().Bytes()
	if err != nil {
		return err
	}
	top, issued, err := mb.ix.rebuild(buf, mb.writtenUID, mb.maxUID)
	if err != nil {
		return err
	}
	mb.maxUID = top
	mb.deleted = mb.ix.deletedCount()
	if issued {
		mb.epoch++
	}
	metricReparse.WithLabelValues("full").Inc()
	mb.log.Debug("mailbox parsed",
		slog.Int("messages", len(mb.ix.msgs)),
		slog.Uint64("max_uid", uint64(mb.maxUID)))
	return nil
}

func (mb *Mailbox) parseFrom(off int64) error {
	buf, err := mb.mp.View().Bytes()
	if err != nil {
		return err
	}
	top, err := mb.ix.reparseFrom(buf, off, mb.maxUID)
	if err != nil {
		return err
	}
	mb.maxUID = top
	mb.deleted = mb.ix.deletedCount()
	metricReparse.WithLabelValues("incremental").Inc()
	return nil
}

// readLocked runs fn under a shared lock on a freshly validated index.
func (mb *Mailbox) readLocked(fn func(buf []byte) error) error {
	if mb.closed {
		return mserrors.ErrMailboxClosed
	}
	if err := mb.lock(LockShared); err != nil {
		return err
	}
	defer mb.unlock()
	if err := mb.refresh(); err != nil {
		return err
	}
	buf, err := mb.mp.View().Bytes()
	if err != nil {
		return err
	}
	return fn(buf)
}

// writeLocked runs fn under an exclusive lock on a freshly validated
// index, first compacting the file if messages were tombstoned.
func (mb *Mailbox) writeLocked(fn func() error) error {
	if mb.closed {
		return mserrors.ErrMailboxClosed
	}
	if mb.readOnly {
		return mserrors.ErrReadOnly
	}
	if err := mb.lock(LockExclusive); err != nil {
		return err
	}
	defer mb.unlock()
	if err := mb.refresh(); err != nil {
		return err
	}
	if mb.changed {
		if err := mb.expungeLocked(); err != nil {
			return err
		}
	}
	return fn()
}

// Validate takes a shared lock and reindexes the file if another process
// changed it.
func (mb *Mailbox) Validate() error {
	return mb.readLocked(func([]byte) error { return nil })
}

// UIDs returns the UIDs of all messages not marked deleted, in file order.
func (mb *Mailbox) UIDs() ([]uint32, error) {
	var uids []uint32
	err := mb.readLocked(func([]byte) error {
		live := mb.ix.live()
		uids = make([]uint32, len(live))
		for i, m := range live {
			uids[i] = m.UID.Value
		}
		return nil
	})
	return uids, err
}

// Each calls fn for every message not marked deleted, in file order.
// header holds the raw header block and is only valid during the call.
func (mb *Mailbox) Each(fn func(m Message, header []byte) error) error {
	return mb.readLocked(func(buf []byte) error {
		for _, m := range mb.ix.live() {
			if err := fn(*m, buf[m.Header:m.Header+m.HeaderLen]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lookup returns the descriptor of a live message.
func (mb *Mailbox) Lookup(uid uint32) (Message, error) {
	var msg Message
	err := mb.readLocked(func([]byte) error {
		m, err := mb.liveMessage(uid)
		if err != nil {
			return err
		}
		msg = *m
		return nil
	})
	return msg, err
}

func (mb *Mailbox) liveMessage(uid uint32) (*Message, error) {
	m := mb.ix.get(uid)
	if m == nil {
		return nil, fmt.Errorf("%w: uid %d", mserrors.ErrMessageNotFound, uid)
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: uid %d: %w", mserrors.ErrMessageNotFound, uid, mserrors.ErrMessageDeleted)
	}
	return m, nil
}

// Fetch returns a copy of the message without its envelope line and
// without X-LibEtPan-UID fields.
func (mb *Mailbox) Fetch(uid uint32) ([]byte, error) {
	out, err := mb.FetchMany([]uint32{uid}, false)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// FetchMany fetches several messages under one lock. With envelope set
// the stored "From " line is included so a copy keeps its sender.
func (mb *Mailbox) FetchMany(uids []uint32, envelope bool) ([][]byte, error) {
	out := make([][]byte, 0, len(uids))
	err := mb.readLocked(func(buf []byte) error {
		for _, uid := range uids {
			m, err := mb.liveMessage(uid)
			if err != nil {
				return err
			}
			var b bytes.Buffer
			b.Grow(int(m.Size))
			if envelope {
				b.Write(buf[m.Start : m.Start+m.StartLen])
			}
			if _, err := writeRaw(&b, buf, m); err != nil {
				return err
			}
			out = append(out, b.Bytes())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHeader returns a copy of the header block without X-LibEtPan-UID
// fields, along with the message descriptor.
func (mb *Mailbox) FetchHeader(uid uint32) ([]byte, Message, error) {
	var hdr []byte
	var msg Message
	err := mb.readLocked(func(buf []byte) error {
		m, err := mb.liveMessage(uid)
		if err != nil {
			return err
		}
		var b bytes.Buffer
		writeHeaderFields(&trackingWriter{w: &b}, buf, m, true)
		hdr, msg = b.Bytes(), *m
		return nil
	})
	return hdr, msg, err
}

// Delete marks a message deleted. It is removed from the file by the next
// expunge.
func (mb *Mailbox) Delete(uid uint32) error {
	return mb.DeleteMany([]uint32{uid})
}

// DeleteMany marks several messages deleted under one lock. Nothing is
// marked if any of the UIDs is unknown or already deleted.
func (mb *Mailbox) DeleteMany(uids []uint32) error {
	return mb.writeLocked(func() error {
		msgs := make([]*Message, len(uids))
		for i, uid := range uids {
			m, err := mb.liveMessage(uid)
			if err != nil {
				return err
			}
			msgs[i] = m
		}
		for _, m := range msgs {
			if m.Deleted {
				continue
			}
			m.Deleted = true
			mb.deleted++
			mb.changed = true
		}
		return nil
	})
}

// DeleteAll marks every message deleted.
func (mb *Mailbox) DeleteAll() error {
	return mb.writeLocked(func() error {
		for _, m := range mb.ix.live() {
			m.Deleted = true
			mb.deleted++
			mb.changed = true
		}
		return nil
	})
}

// Close unmaps and closes the file. The mailbox cannot be used afterwards.
func (mb *Mailbox) Close() error {
	if mb.closed {
		return nil
	}
	mb.closed = true
	var err error
	if mb.mp != nil {
		err = mb.mp.Unmap()
	}
	if mb.f != nil {
		if cerr := mb.f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", mserrors.ErrStorage, mb.path, cerr)
		}
		mb.f = nil
	}
	return err
}

// Path returns the file name of the mailbox.
func (mb *Mailbox) Path() string { return mb.path }

// ReadOnly reports whether the mailbox was opened without write access.
func (mb *Mailbox) ReadOnly() bool { return mb.readOnly }

// MaxUID is the highest UID issued so far.
func (mb *Mailbox) MaxUID() uint32 { return mb.maxUID }

// WrittenUID is the highest UID whose header is known to be on disk.
func (mb *Mailbox) WrittenUID() uint32 { return mb.writtenUID }

// Changed reports whether messages were deleted since the last expunge.
func (mb *Mailbox) Changed() bool { return mb.changed }

// DeletedCount is the number of messages marked deleted.
func (mb *Mailbox) DeletedCount() int { return mb.deleted }

// Epoch changes whenever a full reparse may have renumbered messages that
// had no UID header.
func (mb *Mailbox) Epoch() uint64 { return mb.epoch }
