package mboxstore

import (
	"context"
	"io"
	"net"
	"strings"
	"time"
)

// DeliveryAgent handles message delivery to storage.
// smtpd calls Deliver() after a message passes filtering.
type DeliveryAgent interface {
	// Deliver stores a message for the specified recipients.
	// envelope contains sender and recipient information.
	// message is the raw RFC 5322 message content.
	Deliver(ctx context.Context, envelope Envelope, message io.Reader) error
}

// Envelope contains the message envelope information from the SMTP transaction.
type Envelope struct {
	// From is the MAIL FROM address (reverse-path).
	// It becomes the sender of the mbox "From " line.
	From string

	// Recipients contains the RCPT TO addresses (forward-paths).
	Recipients []string

	// ReceivedTime is when the message was received by the server.
	// It becomes the date of the mbox "From " line; zero means now.
	ReceivedTime time.Time

	// ClientIP is the IP address of the connecting client.
	ClientIP net.IP

	// ClientHostname is the hostname provided in EHLO/HELO.
	ClientHostname string
}

// nullSender is the mbox sender for messages with an empty reverse-path,
// such as bounces.
const nullSender = "MAILER-DAEMON"

// Sender returns the reverse-path as written on the mbox "From " line:
// angle brackets removed, and MAILER-DAEMON for the null sender "<>".
func (e Envelope) Sender() string {
	s := strings.TrimSpace(e.From)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if s == "" {
		return nullSender
	}
	return s
}
