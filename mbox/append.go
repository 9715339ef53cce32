//go:build unix

package mbox

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"time"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// Append adds msgs to the end of the mailbox and returns the UID of the
// last one. Each message gets the next UID in sequence.
//
// A write failure in the middle of a batch is not rolled back: messages
// written so far stay in the file and are picked up by the next parse.
func (mb *Mailbox) Append(msgs []AppendMessage) (uint32, error) {
	if len(msgs) == 0 {
		return 0, mserrors.ErrNoMessage
	}
	var last uint32
	err := mb.writeLocked(func() error {
		var err error
		last, err = mb.appendLocked(msgs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (mb *Mailbox) appendLocked(msgs []AppendMessage) (uint32, error) {
	oldSize := mb.mp.Size()
	buf, err := mb.mp.View().Bytes()
	if err != nil {
		return 0, err
	}
	if uint64(mb.maxUID)+uint64(len(msgs)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s: uid space exhausted at %d", mserrors.ErrStorage, mb.path, mb.maxUID)
	}
	// A tail ending in a line break gets one blank line of padding, as
	// between messages of a batch; its own trailing blank lines stay
	// part of it.
	sep := 0
	switch {
	case oldSize == 0:
	case trailingBreaks(buf, 1) == 1:
		sep = 1
	default:
		sep = 2
	}

	now := time.Now()
	envelopes := make([][]byte, len(msgs))
	total := int64(sep)
	for i, am := range msgs {
		envelopes[i] = am.envelopeLine(now)
		total += fixedSize(am.Data, mb.maxUID+uint32(i)+1, envelopes[i])
		if i > 0 {
			total++
		}
	}

	newSize := oldSize + total
	if err := mb.f.Truncate(newSize); err != nil {
		if rerr := mb.mp.Remap(oldSize); rerr != nil {
			mb.log.Error("remap after failed truncate", slog.Any("error", rerr))
		}
		return 0, fmt.Errorf("%w: extend %s to %d bytes: %v", mserrors.ErrStorage, mb.path, newSize, err)
	}
	if err := mb.mp.Remap(newSize); err != nil {
		mb.size = -1
		return 0, err
	}

	off := oldSize
	var out bytes.Buffer
	out.Write([]byte("\n\n")[:sep])
	for i, am := range msgs {
		if i > 0 {
			out.WriteByte('\n')
		}
		uid := mb.maxUID + 1
		if _, err := writeFixed(&out, am.Data, uid, envelopes[i]); err != nil {
			mb.size = -1
			return 0, fmt.Errorf("%w: encode message: %v", mserrors.ErrStorage, err)
		}
		if _, err := mb.mp.WriteAt(out.Bytes(), off); err != nil {
			// force a full parse next time; the tail may hold a partial batch
			mb.size = -1
			return 0, err
		}
		off += int64(out.Len())
		out.Reset()
		mb.maxUID = uid
		metricAppended.Inc()
	}
	if err := mb.mp.Sync(); err != nil {
		mb.log.Warn("sync after append failed", slog.Any("error", err))
	}

	buf, err = mb.mp.View().Bytes()
	if err != nil {
		mb.size = -1
		return 0, err
	}
	if prev := mb.ix.last(); prev != nil {
		if err := mb.ix.reframe(buf, prev); err != nil {
			mb.size = -1
			return 0, err
		}
	}
	if err := mb.parseFrom(oldSize + int64(sep)); err != nil {
		mb.size = -1
		return 0, err
	}
	if err := mb.snapshot(); err != nil {
		return 0, err
	}
	mb.log.Debug("messages appended",
		slog.Int("count", len(msgs)),
		slog.Uint64("last_uid", uint64(mb.maxUID)))
	return mb.maxUID, nil
}
