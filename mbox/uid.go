package mbox

import "strconv"

// UIDState records whether a UID is backed by a header in the file.
type UIDState uint8

const (
	// UIDPending is a UID synthesized in memory. Its X-LibEtPan-UID header
	// is written by the next expunge.
	UIDPending UIDState = iota

	// UIDAssigned is a UID read from an X-LibEtPan-UID header on disk.
	UIDAssigned
)

// UID identifies a message within one mailbox.
type UID struct {
	Value uint32
	State UIDState
}

// Assigned returns a UID that is physically present in the file.
func Assigned(n uint32) UID { return UID{Value: n, State: UIDAssigned} }

// Pending returns a UID that exists only in the index.
func Pending(n uint32) UID { return UID{Value: n, State: UIDPending} }

// Written reports whether the UID header is materialized on disk.
func (u UID) Written() bool { return u.State == UIDAssigned }

func (u UID) String() string {
	s := strconv.FormatUint(uint64(u.Value), 10)
	if u.State == UIDPending {
		return s + "(pending)"
	}
	return s
}

// ParseUID parses the decimal form used in MessageInfo.UID.
func ParseUID(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}
