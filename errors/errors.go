// Package errors provides centralized error definitions for mboxstore.
package errors

import "errors"

// Mailbox errors.
var (
	// ErrMailboxNotFound indicates the requested mailbox does not exist.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMailboxLocked indicates the mailbox is locked by another holder
	// and a non-blocking lock attempt was made.
	ErrMailboxLocked = errors.New("mailbox locked")

	// ErrMailboxClosed indicates an operation on a mailbox that was closed.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrReadOnly indicates a mutation was attempted on a read-only mailbox.
	ErrReadOnly = errors.New("mailbox is read-only")

	// ErrPathTraversal indicates a mailbox name resolved outside the base path.
	ErrPathTraversal = errors.New("mailbox path escapes base directory")
)

// Engine errors.
var (
	// ErrLock indicates the advisory lock could not be acquired or released.
	ErrLock = errors.New("mailbox lock failed")

	// ErrStorage indicates an open, stat, map, truncate, write or rename
	// failure on the backing file.
	ErrStorage = errors.New("mailbox storage failure")

	// ErrStaleMapping indicates use of a mapping view after the file was unmapped.
	ErrStaleMapping = errors.New("stale mailbox mapping")

	// ErrNoMessage is returned by the scanner when no further message exists.
	// It marks the end of a scan and is never returned by public operations.
	ErrNoMessage = errors.New("no further message")
)

// Message errors.
var (
	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageDeleted indicates the message has been marked for deletion.
	ErrMessageDeleted = errors.New("message deleted")

	// ErrInvalidUID indicates a UID string could not be parsed.
	ErrInvalidUID = errors.New("invalid message uid")
)

// Delivery errors.
var (
	// ErrNoRecipients indicates no valid recipients were provided.
	ErrNoRecipients = errors.New("no recipients")

	// ErrRecipientNotFound indicates a recipient mailbox does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// Store errors.
var (
	// ErrStoreNotRegistered indicates the requested store type is not registered.
	ErrStoreNotRegistered = errors.New("store type not registered")

	// ErrStoreConfigInvalid indicates the store configuration is invalid.
	ErrStoreConfigInvalid = errors.New("invalid store configuration")
)

// Numeric result codes reported by the folder adapter.
const (
	CodeOK = iota
	CodeFile
	CodeLock
	CodeParse
	CodeReadOnly
	CodeMsgNotFound
	CodeInvalid
	CodeUnknown
)

// Code maps err to the numeric code reported to the mail-store layer.
// A nil error maps to CodeOK.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrStorage), errors.Is(err, ErrStaleMapping):
		return CodeFile
	case errors.Is(err, ErrLock), errors.Is(err, ErrMailboxLocked):
		return CodeLock
	case errors.Is(err, ErrNoMessage):
		return CodeParse
	case errors.Is(err, ErrReadOnly):
		return CodeReadOnly
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrMessageDeleted):
		return CodeMsgNotFound
	case errors.Is(err, ErrInvalidUID), errors.Is(err, ErrPathTraversal),
		errors.Is(err, ErrStoreConfigInvalid), errors.Is(err, ErrNoRecipients):
		return CodeInvalid
	default:
		return CodeUnknown
	}
}
