package mbox

import (
	"errors"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// index maps UIDs to messages and keeps them in file order.
// Entries removed by an incremental reparse are nil until compact runs.
type index struct {
	byUID map[uint32]*Message
	msgs  []*Message
}

func newIndex() *index {
	return &index{byUID: make(map[uint32]*Message)}
}

func (ix *index) get(uid uint32) *Message {
	return ix.byUID[uid]
}

func (ix *index) insert(m *Message) {
	m.pos = len(ix.msgs)
	ix.msgs = append(ix.msgs, m)
	ix.byUID[m.UID.Value] = m
}

func (ix *index) remove(m *Message) {
	delete(ix.byUID, m.UID.Value)
	ix.msgs[m.pos] = nil
}

// compact closes the gaps left by remove.
func (ix *index) compact() {
	out := ix.msgs[:0]
	for _, m := range ix.msgs {
		if m == nil {
			continue
		}
		m.pos = len(out)
		out = append(out, m)
	}
	for i := len(out); i < len(ix.msgs); i++ {
		ix.msgs[i] = nil
	}
	ix.msgs = out
}

func (ix *index) last() *Message {
	for i := len(ix.msgs) - 1; i >= 0; i-- {
		if ix.msgs[i] != nil {
			return ix.msgs[i]
		}
	}
	return nil
}

// live returns the messages that are not tombstoned, in file order.
func (ix *index) live() []*Message {
	out := make([]*Message, 0, len(ix.msgs))
	for _, m := range ix.msgs {
		if m != nil && !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

func (ix *index) deletedCount() int {
	n := 0
	for _, m := range ix.msgs {
		if m != nil && m.Deleted {
			n++
		}
	}
	return n
}

// tombstones returns the written UIDs marked deleted at or after off.
// Pending UIDs cannot be matched across a rescan and are not returned.
func (ix *index) tombstones(off int64) map[uint32]bool {
	ts := make(map[uint32]bool)
	for _, m := range ix.msgs {
		if m != nil && m.Deleted && m.UID.Written() && m.Start >= off {
			ts[m.UID.Value] = true
		}
	}
	return ts
}

// rebuild discards the index and scans buf from the beginning. Pending
// UIDs continue from writtenUID, skipping values claimed by headers
// anywhere in the file. It returns the new maximum UID, never lower than
// maxUID, and whether any pending UID was issued.
func (ix *index) rebuild(buf []byte, writtenUID, maxUID uint32) (uint32, bool, error) {
	tombs := ix.tombstones(0)
	ix.byUID = make(map[uint32]*Message)
	ix.msgs = nil

	found, err := scanRange(buf, 0, func(uint32) bool { return false })
	if err != nil {
		return maxUID, false, err
	}
	top, issued := issueUIDs(found, writtenUID, maxUID)
	for _, m := range found {
		if m.UID.Written() && tombs[m.UID.Value] {
			m.Deleted = true
		}
		ix.insert(m)
	}
	return top, issued, nil
}

// reparseFrom re-indexes the messages at or after off. Messages there
// with pending UIDs are dropped and receive fresh UIDs above maxUID when
// rediscovered; written UIDs are recovered from their headers.
func (ix *index) reparseFrom(buf []byte, off int64, maxUID uint32) (uint32, error) {
	tombs := ix.tombstones(off)
	for _, m := range ix.msgs {
		if m != nil && m.Start >= off {
			ix.remove(m)
		}
	}
	ix.compact()

	found, err := scanRange(buf, int(off), func(uid uint32) bool { return ix.byUID[uid] != nil })
	if err != nil {
		return maxUID, err
	}
	top, _ := issueUIDs(found, maxUID, maxUID)
	for _, m := range found {
		if m.UID.Written() && tombs[m.UID.Value] {
			m.Deleted = true
		}
		ix.insert(m)
	}
	return top, nil
}

// reframe rescans m in place, keeping its UID and deleted flag. It is
// used when bytes appended after the last message change its padding.
func (ix *index) reframe(buf []byte, m *Message) error {
	fresh, _, err := scanMessage(buf, int(m.Start))
	if err != nil {
		return err
	}
	if fresh.Start != m.Start {
		return errors.New("mbox: message moved during reframe")
	}
	uid, deleted, pos := m.UID, m.Deleted, m.pos
	*m = fresh
	m.UID, m.Deleted, m.pos = uid, deleted, pos
	return nil
}

// scanRange scans buf from off to the end. Messages carrying a header UID
// that is neither taken nor seen earlier in the range keep it as a written
// UID; all others are left pending with a zero value.
func scanRange(buf []byte, off int, taken func(uint32) bool) ([]*Message, error) {
	var found []*Message
	seen := make(map[uint32]bool)
	for off < len(buf) {
		m, next, err := scanMessage(buf, off)
		if errors.Is(err, mserrors.ErrNoMessage) {
			break
		}
		if err != nil {
			return nil, err
		}
		if m.rawUID != 0 && !seen[m.rawUID] && !taken(m.rawUID) {
			m.UID = Assigned(m.rawUID)
			seen[m.rawUID] = true
		}
		found = append(found, &m)
		off = next
	}
	metricScanned.Add(float64(len(found)))
	return found, nil
}

// issueUIDs gives every pending message in found the next unused UID
// after counter and returns the highest UID among found and maxUID.
func issueUIDs(found []*Message, counter, maxUID uint32) (uint32, bool) {
	claimed := make(map[uint32]bool, len(found))
	for _, m := range found {
		if m.UID.Written() {
			claimed[m.UID.Value] = true
		}
	}
	top := maxUID
	issued := false
	for _, m := range found {
		if !m.UID.Written() {
			counter++
			for claimed[counter] {
				counter++
			}
			m.UID = Pending(counter)
			claimed[counter] = true
			issued = true
		}
		if m.UID.Value > top {
			top = m.UID.Value
		}
	}
	return top, issued
}
