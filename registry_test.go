package mboxstore_test

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/infodancer/mboxstore"
	"github.com/infodancer/mboxstore/errors"

	// Import mbox to trigger registration
	_ "github.com/infodancer/mboxstore/mbox"
)

func TestRegisteredTypes(t *testing.T) {
	types := mboxstore.RegisteredTypes()
	if len(types) == 0 {
		t.Fatal("expected at least one registered type")
	}

	// mbox should be registered via init()
	found := false
	for _, typ := range types {
		if typ == "mbox" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("mbox not found in registered types: %v", types)
	}
}

func TestOpen(t *testing.T) {
	basePath := t.TempDir()

	store, err := mboxstore.Open(mboxstore.StoreConfig{
		Type:     "mbox",
		BasePath: basePath,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestOpenUnregistered(t *testing.T) {
	_, err := mboxstore.Open(mboxstore.StoreConfig{
		Type:     "nonexistent",
		BasePath: "/tmp",
	})
	if !stderrors.Is(err, errors.ErrStoreNotRegistered) {
		t.Fatalf("expected ErrStoreNotRegistered, got %v", err)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	_, err := mboxstore.Open(mboxstore.StoreConfig{
		Type:     "mbox",
		BasePath: "", // invalid - empty path
	})
	if err != errors.ErrStoreConfigInvalid {
		t.Fatalf("expected ErrStoreConfigInvalid, got %v", err)
	}
}

func TestOpenInvalidBoolOption(t *testing.T) {
	_, err := mboxstore.Open(mboxstore.StoreConfig{
		Type:     "mbox",
		BasePath: t.TempDir(),
		Options:  map[string]string{"read_only": "perhaps"},
	})
	if !stderrors.Is(err, errors.ErrStoreConfigInvalid) {
		t.Fatalf("expected ErrStoreConfigInvalid, got %v", err)
	}
}

func TestStoreConfigOptions(t *testing.T) {
	cfg := mboxstore.StoreConfig{Options: map[string]string{
		"cache_dir": "/var/cache/mbox",
		"read_only": "1",
		"mmap":      "false",
		"empty":     "",
	}}

	if got := cfg.Option("cache_dir", "x"); got != "/var/cache/mbox" {
		t.Errorf("Option(cache_dir) = %q", got)
	}
	if got := cfg.Option("empty", "x"); got != "x" {
		t.Errorf("Option(empty) = %q, want default", got)
	}
	if got := cfg.Option("missing", "x"); got != "x" {
		t.Errorf("Option(missing) = %q, want default", got)
	}

	tests := []struct {
		key  string
		def  bool
		want bool
	}{
		{"read_only", false, true},
		{"mmap", true, false},
		{"missing", true, true},
		{"empty", false, false},
	}
	for _, tt := range tests {
		got, err := cfg.BoolOption(tt.key, tt.def)
		if err != nil {
			t.Errorf("BoolOption(%s) failed: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("BoolOption(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}

	// nil options behave as unset
	var zero mboxstore.StoreConfig
	if got, err := zero.BoolOption("mmap", true); err != nil || !got {
		t.Errorf("BoolOption on nil options = %v, %v", got, err)
	}
}

func TestMsgStoreInterface(t *testing.T) {
	basePath := t.TempDir()

	store, err := mboxstore.Open(mboxstore.StoreConfig{
		Type:     "mbox",
		BasePath: basePath,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx := context.Background()
	mailbox := "test@example.com"

	// Test Deliver (DeliveryAgent)
	envelope := mboxstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{mailbox},
	}
	message := strings.NewReader("Subject: Test\r\n\r\nTest body")

	if err := store.Deliver(ctx, envelope, message); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	// Test List (MessageStore)
	messages, err := store.List(ctx, mailbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	// Test Retrieve (MessageStore)
	reader, err := store.Retrieve(ctx, mailbox, messages[0].UID)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	data, _ := io.ReadAll(reader)
	_ = reader.Close()
	if !strings.Contains(string(data), "Test body") {
		t.Fatal("message content not found")
	}

	// Test Stat (MessageStore)
	count, bytes, err := store.Stat(ctx, mailbox)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	if bytes == 0 {
		t.Fatal("expected non-zero bytes")
	}

	// Test Delete (MessageStore)
	if err := store.Delete(ctx, mailbox, messages[0].UID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Test Expunge (MessageStore)
	if err := store.Expunge(ctx, mailbox); err != nil {
		t.Fatalf("Expunge failed: %v", err)
	}

	// Verify message is gone
	messages, err = store.List(ctx, mailbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected 0 messages after expunge, got %d", len(messages))
	}
}
