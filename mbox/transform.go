package mbox

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// envelopeDate is the asctime layout used on "From " lines.
const envelopeDate = time.ANSIC

// AppendMessage is one message handed to Append.
type AppendMessage struct {
	// Data is the raw RFC 5322 message. A leading "From " line is
	// replaced by a normalized one.
	Data []byte

	// Sender is the envelope sender. When empty, the sender of a leading
	// "From " line in Data is kept, or "-" is used.
	Sender string

	// Date is the envelope date. When zero, the date of a leading "From "
	// line is kept, or the time of the append is used.
	Date time.Time
}

// envelopeLine builds the normalized "From <sender> <date>\n" line.
func (am AppendMessage) envelopeLine(now time.Time) []byte {
	sender := am.Sender
	if sender == "" {
		sender = envelopeSender(am.Data)
	}
	if f := strings.Fields(sender); len(f) > 0 {
		sender = f[0]
	} else {
		sender = "-"
	}
	date := am.Date
	if date.IsZero() {
		date = envelopeTime(am.Data)
	}
	if date.IsZero() {
		date = now
	}
	return []byte("From " + sender + " " + date.Format(envelopeDate) + "\n")
}

// envelopeSender returns the first word after "From " on the first line.
func envelopeSender(data []byte) string {
	if !bytes.HasPrefix(data, fromMarker) {
		return ""
	}
	line := data[len(fromMarker):]
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	if f := strings.Fields(string(line)); len(f) > 0 {
		return f[0]
	}
	return ""
}

// envelopeTime returns the date on a leading "From " line, or the zero
// time if there is none or it does not parse.
func envelopeTime(data []byte) time.Time {
	if !bytes.HasPrefix(data, fromMarker) {
		return time.Time{}
	}
	line := data[len(fromMarker):]
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	f := strings.Fields(string(line))
	if len(f) < 2 {
		return time.Time{}
	}
	t, err := time.Parse(envelopeDate, strings.Join(f[1:], " "))
	if err != nil {
		return time.Time{}
	}
	return t
}

// trackingWriter counts bytes and remembers the last one written. The
// first write error sticks.
type trackingWriter struct {
	w    io.Writer
	n    int64
	last byte
	err  error
}

func (tw *trackingWriter) write(p []byte) {
	if tw.err != nil || len(p) == 0 {
		return
	}
	n, err := tw.w.Write(p)
	tw.n += int64(n)
	if n > 0 {
		tw.last = p[n-1]
	}
	tw.err = err
}

// writeFixed writes src as it is stored in the mailbox: envelope line,
// header fields without any X-LibEtPan-UID, a fresh UID field, and the
// body with lines starting "From " escaped as ">From ". The result always
// ends with a line break.
func writeFixed(w io.Writer, src []byte, uid uint32, envelope []byte) (int64, error) {
	tw := &trackingWriter{w: w}
	pos := 0
	if bytes.HasPrefix(src, fromMarker) {
		if nl := bytes.IndexByte(src, '\n'); nl >= 0 {
			pos = nl + 1
		}
	}
	tw.write(envelope)

	for pos < len(src) {
		end, colon := parseField(src, pos)
		if end < 0 {
			break
		}
		if !isUIDField(src[pos:colon]) {
			tw.write(src[pos:end])
			if src[end-1] != '\n' {
				tw.write([]byte{'\n'})
			}
		}
		pos = end
	}
	tw.write(uidHeaderLine(uid))

	escaped := []byte{'>'}
	for pos < len(src) {
		lineEnd := len(src)
		if nl := bytes.IndexByte(src[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		if bytes.HasPrefix(src[pos:lineEnd], fromMarker) {
			tw.write(escaped)
		}
		tw.write(src[pos:lineEnd])
		pos = lineEnd
	}
	if tw.last != '\n' {
		tw.write([]byte{'\n'})
	}
	return tw.n, tw.err
}

// fixedSize is the number of bytes writeFixed produces.
func fixedSize(src []byte, uid uint32, envelope []byte) int64 {
	n, _ := writeFixed(io.Discard, src, uid, envelope)
	return n
}

// writeHeaderFields writes the header block of m, skipping its
// X-LibEtPan-UID fields when skipUID is set.
func writeHeaderFields(tw *trackingWriter, buf []byte, m *Message, skipUID bool) {
	pos := m.Header
	end := m.Header + m.HeaderLen
	if skipUID {
		for _, f := range m.uidFields {
			tw.write(buf[pos:f.Off])
			pos = f.end()
		}
	}
	tw.write(buf[pos:end])
}

// writeRaw writes m as handed out to readers: no envelope line and no
// X-LibEtPan-UID fields. Escaped "From " lines are left as stored.
func writeRaw(w io.Writer, buf []byte, m *Message) (int64, error) {
	tw := &trackingWriter{w: w}
	writeHeaderFields(tw, buf, m, true)
	tw.write(buf[m.Header+m.HeaderLen : m.End()])
	return tw.n, tw.err
}

// writeCompacted writes m as stored after an expunge, followed by its
// padding unless it becomes the last message of the file. Pending UIDs get
// their header materialized; stale UID fields of a pending message are
// dropped.
func writeCompacted(w io.Writer, buf []byte, m *Message, last bool) (int64, error) {
	tw := &trackingWriter{w: w}
	tw.write(buf[m.Start : m.Start+m.StartLen])
	if m.UID.Written() {
		tw.write(buf[m.Header:m.End()])
	} else {
		writeHeaderFields(tw, buf, m, true)
		if needsHeaderBreak(buf, m) {
			tw.write([]byte{'\n'})
		}
		tw.write(uidHeaderLine(m.UID.Value))
		tw.write(buf[m.Header+m.HeaderLen : m.End()])
	}
	if !last {
		tw.write(buf[m.End() : m.End()+m.Padding])
	}
	return tw.n, tw.err
}

// compactedSize is the size writeCompacted produces for m.
func compactedSize(buf []byte, m *Message, last bool) int64 {
	n := m.Size
	if !last {
		n += m.Padding
	}
	if m.UID.Written() {
		return n
	}
	for _, f := range m.uidFields {
		n -= f.Len
	}
	if needsHeaderBreak(buf, m) {
		n++
	}
	return n + uidHeaderLen(m.UID.Value)
}

// needsHeaderBreak reports whether the header fields kept for a pending
// message end without a line break, which happens when the file ends in
// the middle of the header block.
func needsHeaderBreak(buf []byte, m *Message) bool {
	end := m.Header + m.HeaderLen
	for i := len(m.uidFields) - 1; i >= 0 && m.uidFields[i].end() == end; i-- {
		end = m.uidFields[i].Off
	}
	return end > m.Header && buf[end-1] != '\n'
}
