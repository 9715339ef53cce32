package mbox

import (
	"bytes"
	"strconv"
)

// uidHeader is the field that records a materialized UID.
const uidHeader = "X-LibEtPan-UID"

// span is a byte range [Off, Off+Len) in the mailbox file.
type span struct {
	Off int64
	Len int64
}

func (s span) end() int64 { return s.Off + s.Len }

// parseField returns the offset just past the header field that starts at
// pos, including continuation lines, and the offset of its colon. It
// returns -1 if the line at pos is not a header field.
func parseField(buf []byte, pos int) (end, colon int) {
	n := len(buf)
	i := pos
	for i < n && isFieldNameByte(buf[i]) {
		i++
	}
	if i == pos {
		return -1, -1
	}
	// obsolete syntax allows whitespace before the colon
	for i < n && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	if i >= n || buf[i] != ':' {
		return -1, -1
	}
	colon = i

	end = colon + 1
	for {
		nl := bytes.IndexByte(buf[end:], '\n')
		if nl < 0 {
			return n, colon
		}
		end += nl + 1
		if end >= n || (buf[end] != ' ' && buf[end] != '\t') {
			return end, colon
		}
	}
}

func isFieldNameByte(c byte) bool {
	return c > ' ' && c < 0x7f && c != ':'
}

// headerBlock is the result of scanning the header fields of one message.
type headerBlock struct {
	end       int
	uid       uint32 // last X-LibEtPan-UID value, 0 if none
	uidFields []span
}

// parseHeaders scans consecutive header fields starting at pos.
func parseHeaders(buf []byte, pos int) headerBlock {
	hb := headerBlock{end: pos}
	for hb.end < len(buf) {
		end, colon := parseField(buf, hb.end)
		if end < 0 {
			break
		}
		if isUIDField(buf[hb.end:colon]) {
			hb.uid = parseUIDValue(buf[colon+1 : end])
			hb.uidFields = append(hb.uidFields, span{Off: int64(hb.end), Len: int64(end - hb.end)})
		}
		hb.end = end
	}
	return hb
}

func isUIDField(name []byte) bool {
	return bytes.EqualFold(bytes.TrimRight(name, " \t"), []byte(uidHeader))
}

// parseUIDValue reads the leading decimal digits of a UID field value.
// Values that are empty, zero or overflow 32 bits yield 0.
func parseUIDValue(v []byte) uint32 {
	v = bytes.TrimLeft(v, " \t")
	i := 0
	for i < len(v) && v[i] >= '0' && v[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(v[:i]), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// uidHeaderLine renders the marker header for uid.
func uidHeaderLine(uid uint32) []byte {
	b := make([]byte, 0, len(uidHeader)+16)
	b = append(b, uidHeader...)
	b = append(b, ':', ' ')
	b = strconv.AppendUint(b, uint64(uid), 10)
	return append(b, '\r', '\n')
}

// uidHeaderLen is len(uidHeaderLine(uid)) without allocating.
func uidHeaderLen(uid uint32) int64 {
	digits := int64(1)
	for uid >= 10 {
		uid /= 10
		digits++
	}
	return int64(len(uidHeader)) + 2 + digits + 2
}
