package mbox

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// MsgInfo is the summary of a message built from its header alone.
type MsgInfo struct {
	UID       uint32
	Size      int64 // size of a raw fetch
	Written   bool  // UID header is on disk
	Subject   string
	From      []*mail.Address
	To        []*mail.Address
	Date      time.Time
	MessageID string
	Flags     []string
}

// parseMsgInfo decodes the header block of a message. Malformed fields are
// left empty rather than failing the whole summary.
func parseMsgInfo(hdr []byte, m Message) (*MsgInfo, error) {
	raw := make([]byte, 0, len(hdr)+2)
	raw = append(raw, hdr...)
	raw = append(raw, "\r\n"...)
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse header of uid %d: %w", m.UID.Value, err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	info := &MsgInfo{
		UID:     m.UID.Value,
		Size:    m.RawSize(),
		Written: m.UID.Written(),
		Flags:   statusFlags(h.Get("Status"), h.Get("X-Status")),
	}
	if s, err := h.Subject(); err == nil {
		info.Subject = s
	} else {
		info.Subject = h.Get("Subject")
	}
	if d, err := h.Date(); err == nil {
		info.Date = d
	}
	if id, err := h.MessageID(); err == nil {
		info.MessageID = id
	}
	info.From, _ = h.AddressList("From")
	info.To, _ = h.AddressList("To")
	return info, nil
}

// statusFlags maps the Status and X-Status fields written by mbox mail
// readers to IMAP system flags.
func statusFlags(status, xstatus string) []string {
	var flags []string
	if strings.ContainsRune(status, 'R') {
		flags = append(flags, "\\Seen")
	}
	for _, c := range strings.TrimSpace(xstatus) {
		switch c {
		case 'A':
			flags = append(flags, "\\Answered")
		case 'F':
			flags = append(flags, "\\Flagged")
		case 'T':
			flags = append(flags, "\\Draft")
		case 'D':
			flags = append(flags, "\\Deleted")
		}
	}
	return flags
}
