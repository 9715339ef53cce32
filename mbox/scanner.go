package mbox

import (
	"bytes"

	mserrors "github.com/infodancer/mboxstore/errors"
)

var fromMarker = []byte("From ")

// Message describes one message in the mailbox file. All offsets are
// absolute file offsets.
//
//	Start                 Header                Body              Start+Size
//	|From sender date\n   |Field: value\r\n...  \n|body...          |\n|From ...
//	 <---- StartLen ----> <---- HeaderLen ---->  <--- BodyLen --->  Padding
type Message struct {
	UID UID

	Start     int64
	StartLen  int64
	Header    int64
	HeaderLen int64
	Body      int64
	BodyLen   int64
	Size      int64
	Padding   int64

	Deleted bool

	pos       int    // index in the ordered table
	rawUID    uint32 // UID found in the header, 0 if none
	uidFields []span
}

// End is the offset just past the message, before its padding.
func (m *Message) End() int64 { return m.Start + m.Size }

// RawSize is the size of the message as returned by a raw fetch: without
// the envelope line and without X-LibEtPan-UID fields.
func (m *Message) RawSize() int64 {
	n := m.Size - m.StartLen
	for _, f := range m.uidFields {
		n -= f.Len
	}
	return n
}

// scanMessage scans the message starting at off and returns it with the
// offset of the next message. It returns ErrNoMessage when buf holds
// nothing but line breaks from off onwards.
func scanMessage(buf []byte, off int) (Message, int, error) {
	for {
		if onlyLineBreaks(buf[min(off, len(buf)):]) {
			return Message{}, len(buf), mserrors.ErrNoMessage
		}
		m, next := scanOne(buf, off)
		if m.StartLen == 0 && onlyLineBreaks(buf[m.Start:m.End()]) {
			// stray blank lines ahead of a "From " line
			off = next
			continue
		}
		return m, next, nil
	}
}

func scanOne(buf []byte, start int) (Message, int) {
	pos := start
	startLen := 0
	if bytes.HasPrefix(buf[pos:], fromMarker) {
		if nl := bytes.IndexByte(buf[pos:], '\n'); nl >= 0 {
			startLen = nl + 1
			pos += startLen
		}
	}

	hb := parseHeaders(buf, pos)
	body := hb.end + lineBreakLen(buf, hb.end)
	end, next := scanBody(buf, hb.end)
	if body > end {
		body = end
	}

	m := Message{
		Start:     int64(start),
		StartLen:  int64(startLen),
		Header:    int64(pos),
		HeaderLen: int64(hb.end - pos),
		Body:      int64(body),
		BodyLen:   int64(end - body),
		Size:      int64(end - start),
		Padding:   int64(next - end),
		rawUID:    hb.uid,
		uidFields: hb.uidFields,
	}
	return m, next
}

// scanBody walks lines from pos until a blank line followed by a line
// starting with "From ". It returns the end of the message and the offset
// of that "From " line. Only the last blank line before the boundary is
// padding; earlier blank lines stay part of the message. Without a
// boundary the message runs to the end of buf.
func scanBody(buf []byte, pos int) (end, next int) {
	prevBlank := false
	blankStart := 0
	for pos < len(buf) {
		if prevBlank && bytes.HasPrefix(buf[pos:], fromMarker) {
			return blankStart, pos
		}
		lineEnd := len(buf)
		if nl := bytes.IndexByte(buf[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		if isBlankLine(buf[pos:lineEnd]) {
			prevBlank = true
			blankStart = pos
		} else {
			prevBlank = false
		}
		pos = lineEnd
	}
	return len(buf), len(buf)
}

func isBlankLine(line []byte) bool {
	return (len(line) == 1 && line[0] == '\n') ||
		(len(line) == 2 && line[0] == '\r' && line[1] == '\n')
}

// lineBreakLen returns the length of the line break at pos, or 0.
func lineBreakLen(buf []byte, pos int) int {
	switch {
	case pos < len(buf) && buf[pos] == '\n':
		return 1
	case pos+1 < len(buf) && buf[pos] == '\r' && buf[pos+1] == '\n':
		return 2
	}
	return 0
}

func onlyLineBreaks(b []byte) bool {
	for _, c := range b {
		if c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}

// trailingBreaks counts the line breaks ending buf, up to limit.
// A CRLF counts once.
func trailingBreaks(buf []byte, limit int) int {
	count := 0
	i := len(buf) - 1
	for count < limit && i >= 0 && buf[i] == '\n' {
		count++
		i--
		if i >= 0 && buf[i] == '\r' {
			i--
		}
	}
	return count
}
