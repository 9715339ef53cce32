package mboxstore

import "io"

// MsgStore combines delivery and storage operations.
// It embeds both DeliveryAgent (for smtpd message delivery) and
// MessageStore (for pop3d/imapd message retrieval).
//
// Close releases open mailboxes and persists per-mailbox state.
type MsgStore interface {
	DeliveryAgent
	MessageStore
	io.Closer
}
