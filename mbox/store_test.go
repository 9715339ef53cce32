//go:build unix

package mbox

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mboxstore"
	"github.com/infodancer/mboxstore/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(t.TempDir(), "", "", Options{})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func deliverTest(t *testing.T, store *Store, recipients ...string) {
	t.Helper()
	envelope := mboxstore.Envelope{
		From:       "sender@example.com",
		Recipients: recipients,
	}
	message := strings.NewReader("Subject: Test\r\n\r\nTest message body")
	if err := store.Deliver(context.Background(), envelope, message); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
}

func TestMboxStore_Deliver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envelope := mboxstore.Envelope{
		From:           "sender@example.com",
		Recipients:     []string{"user@example.com"},
		ReceivedTime:   time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC),
		ClientIP:       nil,
		ClientHostname: "test",
	}

	message := strings.NewReader("Subject: Test\r\n\r\nTest message body")

	if err := store.Deliver(ctx, envelope, message); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	messages, err := store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	raw, err := os.ReadFile(filepath.Join(store.basePath, "user@example.com"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "From sender@example.com Tue Mar  5 10:11:12 2024\n"
	if !strings.HasPrefix(string(raw), want) {
		t.Fatalf("envelope line mismatch: got %q, want prefix %q", raw, want)
	}
}

func TestMboxStore_DeliverNullSender(t *testing.T) {
	store := newTestStore(t)
	envelope := mboxstore.Envelope{
		From:       "<>",
		Recipients: []string{"user@example.com"},
	}
	if err := store.Deliver(context.Background(), envelope, strings.NewReader("Subject: bounce\r\n\r\nBody")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(store.basePath, "user@example.com"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), "From MAILER-DAEMON ") {
		t.Fatalf("expected MAILER-DAEMON envelope line, got %q", raw)
	}
}

func TestMboxStore_DeliverNoRecipients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envelope := mboxstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{},
	}

	message := strings.NewReader("Subject: Test\r\n\r\nTest message body")

	err := store.Deliver(ctx, envelope, message)
	if err != errors.ErrNoRecipients {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestMboxStore_DeliverInvalidRecipient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envelope := mboxstore.Envelope{Recipients: []string{"+ext@example.com"}}
	err := store.Deliver(ctx, envelope, strings.NewReader("Subject: Test\r\n\r\nBody"))
	if !stderrors.Is(err, errors.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}

	// a valid recipient alongside still gets the message
	envelope.Recipients = []string{"+ext@example.com", "User+box@Example.com"}
	if err := store.Deliver(ctx, envelope, strings.NewReader("Subject: Test\r\n\r\nBody")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	messages, err := store.List(ctx, "User@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
}

func TestMboxStore_DeliverCanceled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	envelope := mboxstore.Envelope{Recipients: []string{"user@example.com"}}
	err := store.Deliver(ctx, envelope, strings.NewReader("Subject: Test\r\n\r\nBody"))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMboxStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		deliverTest(t, store, "user@example.com")
	}

	messages, err := store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].UID != "1" || messages[1].UID != "2" {
		t.Fatalf("expected UIDs 1 and 2, got %s and %s", messages[0].UID, messages[1].UID)
	}
}

func TestMboxStore_ListNonexistent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	messages, err := store.List(ctx, "nonexistent@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
	if _, err := os.Stat(filepath.Join(store.basePath, "nonexistent@example.com")); !os.IsNotExist(err) {
		t.Fatalf("List must not create the mailbox file, stat err = %v", err)
	}
}

func TestMboxStore_Retrieve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	messageContent := "Subject: Test\r\n\r\nTest message body"
	envelope := mboxstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"user@example.com"},
	}
	message := strings.NewReader(messageContent)

	if err := store.Deliver(ctx, envelope, message); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	messages, err := store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) == 0 {
		t.Fatal("no messages found")
	}

	reader, err := store.Retrieve(ctx, "user@example.com", messages[0].UID)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	// The stored copy always ends with a line break.
	if string(data) != messageContent+"\n" {
		t.Fatalf("message content mismatch: got %q, want %q", string(data), messageContent+"\n")
	}
	if int64(len(data)) != messages[0].Size {
		t.Fatalf("size mismatch: List says %d, retrieved %d bytes", messages[0].Size, len(data))
	}
}

func TestMboxStore_RetrieveInvalidUID(t *testing.T) {
	store := newTestStore(t)
	deliverTest(t, store, "user@example.com")

	for _, uid := range []string{"", "0", "abc", "-1", "99999999999"} {
		_, err := store.Retrieve(context.Background(), "user@example.com", uid)
		if err != errors.ErrInvalidUID {
			t.Errorf("Retrieve(%q): expected ErrInvalidUID, got %v", uid, err)
		}
	}
}

func TestMboxStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deliverTest(t, store, "user@example.com")

	messages, err := store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	if err := store.Delete(ctx, "user@example.com", messages[0].UID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Message should no longer appear in list
	messages, err = store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected 0 messages after delete, got %d", len(messages))
	}

	if _, err := store.Retrieve(ctx, "user@example.com", "1"); err != errors.ErrMessageDeleted {
		t.Fatalf("expected ErrMessageDeleted, got %v", err)
	}
}

func TestMboxStore_DeleteUnknown(t *testing.T) {
	store := newTestStore(t)
	deliverTest(t, store, "user@example.com")

	err := store.Delete(context.Background(), "user@example.com", "42")
	if !stderrors.Is(err, errors.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMboxStore_Expunge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deliverTest(t, store, "user@example.com")

	messages, err := store.List(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	uid := messages[0].UID

	if err := store.Delete(ctx, "user@example.com", uid); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Expunge(ctx, "user@example.com"); err != nil {
		t.Fatalf("Expunge failed: %v", err)
	}

	// Retrieve should fail after expunge
	_, err = store.Retrieve(ctx, "user@example.com", uid)
	if !stderrors.Is(err, errors.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound after expunge, got %v", err)
	}

	fi, err := os.Stat(filepath.Join(store.basePath, "user@example.com"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("expected empty mailbox file after expunge, got %d bytes", fi.Size())
	}
}

func TestMboxStore_ExpungeKeepsFolderListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deliverTest(t, store, "user@example.com")
	sf, err := store.folder("user@example.com", false)
	if err != nil {
		t.Fatalf("folder failed: %v", err)
	}
	if _, _, err := sf.f.NumList(); err != nil {
		t.Fatalf("NumList failed: %v", err)
	}
	deliverTest(t, store, "user@example.com")

	if err := store.Delete(ctx, "user@example.com", "1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Expunge(ctx, "user@example.com"); err != nil {
		t.Fatalf("Expunge failed: %v", err)
	}

	// the folder's own client has not listed the new message yet
	scan, err := sf.f.ScanRequired()
	if err != nil {
		t.Fatalf("ScanRequired failed: %v", err)
	}
	if !scan {
		t.Fatal("expected ScanRequired after Expunge, listing state was overwritten")
	}
}

func TestMboxStore_Stat(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		deliverTest(t, store, "user@example.com")
	}

	count, totalBytes, err := store.Stat(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 messages, got %d", count)
	}
	want := int64(3 * len("Subject: Test\r\n\r\nTest message body\n"))
	if totalBytes != want {
		t.Fatalf("expected %d total bytes, got %d", want, totalBytes)
	}
}

func TestMboxStore_MultipleRecipients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recipients := []string{"user1@example.com", "user2@example.com"}
	deliverTest(t, store, recipients...)

	for _, user := range recipients {
		messages, err := store.List(ctx, user)
		if err != nil {
			t.Fatalf("List failed for %s: %v", user, err)
		}
		if len(messages) != 1 {
			t.Fatalf("expected 1 message for %s, got %d", user, len(messages))
		}
	}
}

func TestMboxStore_PathTemplate(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath, "", "{domain}/users/{localpart}", Options{})
	t.Cleanup(func() { _ = store.Close() })

	deliverTest(t, store, "alice+lists@example.com")

	if _, err := os.Stat(filepath.Join(basePath, "example.com", "users", "alice")); err != nil {
		t.Fatalf("expected mailbox at example.com/users/alice: %v", err)
	}
	if _, err := os.Stat(filepath.Join(basePath, ".cache", "example.com", "users", "alice", "max-uid")); !os.IsNotExist(err) {
		t.Fatalf("sidecar must only be written on close, stat err = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	uid, err := readSidecar(filepath.Join(basePath, ".cache", "example.com", "users", "alice"))
	if err != nil {
		t.Fatalf("readSidecar failed: %v", err)
	}
	if uid != 0 {
		t.Fatalf("expected written uid 0 before any expunge, got %d", uid)
	}
}

func TestMboxStore_MailboxPath(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath, "", "", Options{})

	tests := []struct {
		name    string
		mailbox string
		wantErr bool
	}{
		{name: "plain", mailbox: "user@example.com"},
		{name: "nested", mailbox: "example.com/user"},
		{name: "parent", mailbox: "../escape", wantErr: true},
		{name: "deep parent", mailbox: "user/../../../etc", wantErr: true},
		{name: "base itself", mailbox: ".", wantErr: true},
		{name: "sibling prefix", mailbox: "../" + filepath.Base(basePath) + "-other/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.mailboxPath(tt.mailbox)
			if tt.wantErr {
				if err != errors.ErrPathTraversal {
					t.Fatalf("mailboxPath(%q) = %q, %v; want ErrPathTraversal", tt.mailbox, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("mailboxPath(%q) failed: %v", tt.mailbox, err)
			}
			if !strings.HasPrefix(got, basePath+string(filepath.Separator)) {
				t.Fatalf("mailboxPath(%q) = %q, not under %q", tt.mailbox, got, basePath)
			}
		})
	}
}

func TestHeaderFlags(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected []string
	}{
		{
			name:     "no status",
			header:   "Subject: x\r\n",
			expected: nil,
		},
		{
			name:     "read",
			header:   "Subject: x\r\nStatus: RO\r\n",
			expected: []string{"\\Seen"},
		},
		{
			name:     "old but unread",
			header:   "status: O\n",
			expected: nil,
		},
		{
			name:     "all flags",
			header:   "Status: RO\nX-Status: AFTD\n",
			expected: []string{"\\Seen", "\\Answered", "\\Flagged", "\\Draft", "\\Deleted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := headerFlags([]byte(tt.header))
			if len(result) != len(tt.expected) {
				t.Errorf("headerFlags(%q) = %v, want %v", tt.header, result, tt.expected)
				return
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("headerFlags(%q) = %v, want %v", tt.header, result, tt.expected)
					break
				}
			}
		})
	}
}
