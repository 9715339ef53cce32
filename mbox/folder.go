//go:build unix

package mbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Folder is a mailbox as seen by a mail client: UID listing, per-message
// summaries, fetch into cache files, copy between folders and persistence
// of the last written UID across restarts.
//
// A Folder is not safe for concurrent use. Separate processes may each
// hold a Folder on the same file.
type Folder struct {
	mb       *Mailbox
	cacheDir string
	cache    *messageCache
	log      *slog.Logger

	listed    bool
	seenEpoch uint64
	seenMax   uint32
	closed    bool
}

// DefaultCacheDir is the cache directory used when OpenFolder is given
// none: ".cache/<name>" next to the mailbox file.
func DefaultCacheDir(path string) string {
	return filepath.Join(filepath.Dir(path), ".cache", filepath.Base(path))
}

// OpenFolder opens the mailbox at path, creating it if it does not exist
// and the directory is writable. cacheDir holds fetched messages and the
// max-uid sidecar.
func OpenFolder(path, cacheDir string, opts Options) (*Folder, error) {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir(path)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		log.Warn("cannot create folder cache", slog.String("dir", cacheDir), slog.Any("error", err))
	}
	written, err := readSidecar(cacheDir)
	if err != nil {
		log.Warn("ignoring unreadable uid sidecar", slog.String("dir", cacheDir), slog.Any("error", err))
	}
	if written > opts.WrittenUID {
		opts.WrittenUID = written
	}
	mb, err := OpenMailbox(path, opts)
	if err != nil {
		return nil, err
	}
	return &Folder{
		mb:       mb,
		cacheDir: cacheDir,
		cache:    &messageCache{dir: cacheDir},
		log:      mb.log,
	}, nil
}

// Mailbox returns the underlying mailbox.
func (fo *Folder) Mailbox() *Mailbox { return fo.mb }

// CacheDir returns the directory holding fetched messages and the sidecar.
func (fo *Folder) CacheDir() string { return fo.cacheDir }

// NumList returns the UIDs of all live messages. valid is false when UIDs
// handed out by an earlier NumList may now name different messages, which
// happens when the file was rewritten by a program that does not keep UID
// headers. Cached messages are discarded in that case.
func (fo *Folder) NumList() (uids []uint32, valid bool, err error) {
	uids, err = fo.mb.UIDs()
	if err != nil {
		return nil, false, err
	}
	valid = !fo.listed || fo.mb.Epoch() == fo.seenEpoch
	if !valid {
		if err := fo.cache.clear(); err != nil {
			fo.log.Warn("clearing message cache", slog.Any("error", err))
		}
	}
	fo.listed = true
	fo.seenEpoch = fo.mb.Epoch()
	fo.seenMax = fo.mb.MaxUID()
	return uids, valid, nil
}

// MsgInfo returns a summary of the message built from its header.
func (fo *Folder) MsgInfo(uid uint32) (*MsgInfo, error) {
	hdr, m, err := fo.mb.FetchHeader(uid)
	if err != nil {
		return nil, err
	}
	return parseMsgInfo(hdr, m)
}

// Fetch returns the message as stored, without envelope line and UID
// header.
func (fo *Folder) Fetch(uid uint32) ([]byte, error) {
	return fo.mb.Fetch(uid)
}

// FetchMsg returns the name of a file holding the message, writing it to
// the cache on first use.
func (fo *Folder) FetchMsg(uid uint32) (string, error) {
	if _, err := fo.mb.Lookup(uid); err != nil {
		return "", err
	}
	if p, ok := fo.cache.lookup(uid); ok {
		return p, nil
	}
	data, err := fo.mb.Fetch(uid)
	if err != nil {
		return "", err
	}
	return fo.cache.store(uid, data)
}

// AddMsgs appends the messages stored in files and returns the UID of the
// last one.
func (fo *Folder) AddMsgs(files []string) (uint32, error) {
	msgs := make([]AppendMessage, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}
		msgs = append(msgs, AppendMessage{Data: data})
	}
	return fo.mb.Append(msgs)
}

// AddMessages appends msgs and returns the UID of the last one.
func (fo *Folder) AddMessages(msgs []AppendMessage) (uint32, error) {
	return fo.mb.Append(msgs)
}

// CopyMsgs appends copies of the given messages to dest, keeping their
// envelope sender and date. It returns the last UID assigned in dest.
func (fo *Folder) CopyMsgs(dest *Folder, uids []uint32) (uint32, error) {
	datas, err := fo.mb.FetchMany(uids, true)
	if err != nil {
		return 0, err
	}
	msgs := make([]AppendMessage, len(datas))
	for i, d := range datas {
		msgs[i] = AppendMessage{Data: d}
	}
	return dest.mb.Append(msgs)
}

// RemoveMsg marks a message deleted and drops its cached copy.
func (fo *Folder) RemoveMsg(uid uint32) error {
	if err := fo.mb.Delete(uid); err != nil {
		return err
	}
	return fo.cache.remove(uid)
}

// RemoveMsgs marks several messages deleted at once. Unlike repeated
// RemoveMsg calls, earlier removals are not compacted away in between.
func (fo *Folder) RemoveMsgs(uids []uint32) error {
	if err := fo.mb.DeleteMany(uids); err != nil {
		return err
	}
	var errs []error
	for _, uid := range uids {
		if err := fo.cache.remove(uid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveAllMsg marks every message deleted and empties the cache.
func (fo *Folder) RemoveAllMsg() error {
	if err := fo.mb.DeleteAll(); err != nil {
		return err
	}
	return fo.cache.clear()
}

// Expunge removes deleted messages from the file.
func (fo *Folder) Expunge() error {
	return fo.mb.Expunge()
}

// ScanRequired reports whether the mailbox changed since the last NumList.
func (fo *Folder) ScanRequired() (bool, error) {
	if err := fo.mb.Validate(); err != nil {
		return false, err
	}
	if !fo.listed {
		return true, nil
	}
	return fo.mb.MaxUID() != fo.seenMax || fo.mb.Epoch() != fo.seenEpoch, nil
}

// Close expunges messages removed since the last Expunge, records the
// last written UID in the sidecar and closes the mailbox.
func (fo *Folder) Close() error {
	if fo.closed {
		return nil
	}
	fo.closed = true
	var errs []error
	if !fo.mb.ReadOnly() && fo.mb.Changed() {
		if err := fo.mb.Expunge(); err != nil {
			fo.log.Error("expunge on close", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if err := writeSidecar(fo.cacheDir, fo.mb.WrittenUID()); err != nil {
		fo.log.Warn("saving uid sidecar", slog.Any("error", err))
		errs = append(errs, err)
	}
	if err := fo.mb.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
