//go:build unix

package mbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/infodancer/mboxstore"
	"github.com/infodancer/mboxstore/errors"
)

// Store implements mboxstore.MsgStore with one mbox file per mailbox.
// Folders are opened on first use and kept open until Close.
type Store struct {
	basePath     string
	cacheRoot    string // per-folder caches and sidecars live below this
	pathTemplate string // optional path template for domain-aware storage
	opts         Options
	log          *slog.Logger

	mu      sync.Mutex
	folders map[string]*storeFolder // mailbox path -> folder
}

// storeFolder serializes access to one Folder. Deletions are kept here
// until Expunge so a session can delete several messages without any of
// them being compacted away early.
type storeFolder struct {
	mu      sync.Mutex
	f       *Folder
	deleted map[uint32]bool
}

// NewStore creates a Store rooted at basePath. The optional pathTemplate
// transforms mailbox names using {domain}, {localpart} and {email}
// (e.g., "{domain}/users/{localpart}"). cacheRoot defaults to
// basePath/.cache.
func NewStore(basePath, cacheRoot, pathTemplate string, opts Options) *Store {
	if cacheRoot == "" {
		cacheRoot = filepath.Join(basePath, ".cache")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		basePath:     basePath,
		cacheRoot:    cacheRoot,
		pathTemplate: pathTemplate,
		opts:         opts,
		log:          log,
		folders:      make(map[string]*storeFolder),
	}
}

// splitEmail splits an email address into localpart and domain.
// If the email doesn't contain @, localpart is the entire input and domain is empty.
func splitEmail(email string) (localpart, domain string) {
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		return email[:idx], email[idx+1:]
	}
	return email, ""
}

// expandMailbox applies the path template to a mailbox name.
func (s *Store) expandMailbox(mailbox string) string {
	if s.pathTemplate == "" {
		return mailbox
	}
	localpart, domain := splitEmail(mailbox)
	result := s.pathTemplate
	result = strings.ReplaceAll(result, "{domain}", domain)
	result = strings.ReplaceAll(result, "{localpart}", localpart)
	result = strings.ReplaceAll(result, "{email}", mailbox)
	return result
}

// mailboxPath returns the mbox file for a mailbox. The file must lie
// strictly below the base directory.
func (s *Store) mailboxPath(mailbox string) (string, error) {
	cleanBase := filepath.Clean(s.basePath)
	candidate := filepath.Clean(filepath.Join(s.basePath, s.expandMailbox(mailbox)))
	if !strings.HasPrefix(candidate, cleanBase+string(filepath.Separator)) {
		return "", errors.ErrPathTraversal
	}
	return candidate, nil
}

// cacheDir returns the cache directory for the mbox file at path.
func (s *Store) cacheDir(path string) string {
	rel, err := filepath.Rel(filepath.Clean(s.basePath), path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.Join(s.cacheRoot, rel)
}

// folder returns the open folder for mailbox. With create unset a missing
// mbox file yields ErrMailboxNotFound instead of being created.
func (s *Store) folder(mailbox string, create bool) (*storeFolder, error) {
	path, err := s.mailboxPath(mailbox)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sf, ok := s.folders[path]; ok {
		return sf, nil
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", errors.ErrStorage, filepath.Dir(path), err)
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.ErrMailboxNotFound
	}
	opts := s.opts
	opts.Logger = s.log
	f, err := OpenFolder(path, s.cacheDir(path), opts)
	if err != nil {
		return nil, err
	}
	sf := &storeFolder{f: f, deleted: make(map[uint32]bool)}
	s.folders[path] = sf
	return sf, nil
}

// Deliver implements mboxstore.DeliveryAgent.
func (s *Store) Deliver(ctx context.Context, envelope mboxstore.Envelope, message io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(envelope.Recipients) == 0 {
		return errors.ErrNoRecipients
	}

	// Read message into memory for multi-recipient delivery
	data, err := io.ReadAll(message)
	if err != nil {
		return err
	}
	am := AppendMessage{
		Data:   data,
		Sender: envelope.Sender(),
		Date:   envelope.ReceivedTime,
	}

	var lastErr error
	delivered := 0

	for _, recipient := range envelope.Recipients {
		// Strip subaddress extension so user+folder@example.com
		// delivers to the user@example.com mailbox.
		parsed := mboxstore.ParseRecipient(recipient)
		if !parsed.Valid() {
			lastErr = fmt.Errorf("%w: %q", errors.ErrRecipientNotFound, recipient)
			continue
		}
		sf, err := s.folder(parsed.Address, true)
		if err != nil {
			lastErr = err
			continue
		}
		sf.mu.Lock()
		uid, err := sf.f.AddMessages([]AppendMessage{am})
		sf.mu.Unlock()
		if err != nil {
			s.log.Error("delivery failed",
				slog.String("recipient", parsed.Address),
				slog.Any("error", err))
			lastErr = err
			continue
		}
		s.log.Debug("message delivered",
			slog.String("recipient", parsed.Address),
			slog.Uint64("uid", uint64(uid)))
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// List implements mboxstore.MessageStore.
func (s *Store) List(ctx context.Context, mailbox string) ([]mboxstore.MessageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sf, err := s.folder(mailbox, false)
	if stderrors.Is(err, errors.ErrMailboxNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()

	var messages []mboxstore.MessageInfo
	err = sf.f.Mailbox().Each(func(m Message, header []byte) error {
		if sf.deleted[m.UID.Value] {
			return nil
		}
		messages = append(messages, mboxstore.MessageInfo{
			UID:   strconv.FormatUint(uint64(m.UID.Value), 10),
			Size:  m.RawSize(),
			Flags: headerFlags(header),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// headerFlags reads the Status and X-Status fields from a raw header.
func headerFlags(header []byte) []string {
	var status, xstatus string
	for pos := 0; pos < len(header); {
		end, colon := parseField(header, pos)
		if end < 0 {
			break
		}
		name := string(bytes.TrimSpace(header[pos:colon]))
		value := string(bytes.TrimSpace(header[colon+1 : end]))
		switch {
		case strings.EqualFold(name, "Status"):
			status = value
		case strings.EqualFold(name, "X-Status"):
			xstatus = value
		}
		pos = end
	}
	return statusFlags(status, xstatus)
}

// Retrieve implements mboxstore.MessageStore.
func (s *Store) Retrieve(ctx context.Context, mailbox string, uid string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := ParseUID(uid)
	if !ok {
		return nil, errors.ErrInvalidUID
	}
	sf, err := s.folder(mailbox, false)
	if stderrors.Is(err, errors.ErrMailboxNotFound) {
		return nil, errors.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.deleted[n] {
		return nil, errors.ErrMessageDeleted
	}
	data, err := sf.f.Fetch(n)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements mboxstore.MessageStore. The deletion is private to
// this Store until Expunge.
func (s *Store) Delete(ctx context.Context, mailbox string, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, ok := ParseUID(uid)
	if !ok {
		return errors.ErrInvalidUID
	}
	sf, err := s.folder(mailbox, false)
	if stderrors.Is(err, errors.ErrMailboxNotFound) {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, err := sf.f.Mailbox().Lookup(n); err != nil {
		return err
	}
	sf.deleted[n] = true
	return nil
}

// Expunge implements mboxstore.MessageStore.
func (s *Store) Expunge(ctx context.Context, mailbox string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sf, err := s.folder(mailbox, false)
	if stderrors.Is(err, errors.ErrMailboxNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()

	// Messages may have been expunged by another session in the meantime.
	uids, err := sf.f.Mailbox().UIDs()
	if err != nil {
		return err
	}
	var remove []uint32
	for _, uid := range uids {
		if sf.deleted[uid] {
			remove = append(remove, uid)
		}
	}
	sf.deleted = make(map[uint32]bool)
	if len(remove) > 0 {
		if err := sf.f.RemoveMsgs(remove); err != nil {
			return err
		}
	}
	return sf.f.Expunge()
}

// Stat implements mboxstore.MessageStore.
func (s *Store) Stat(ctx context.Context, mailbox string) (count int, totalBytes int64, err error) {
	messages, err := s.List(ctx, mailbox)
	if err != nil {
		return 0, 0, err
	}

	for _, msg := range messages {
		count++
		totalBytes += msg.Size
	}
	return count, totalBytes, nil
}

// Close closes every open folder, persisting their sidecars.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for path, sf := range s.folders {
		sf.mu.Lock()
		if err := sf.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		sf.mu.Unlock()
		delete(s.folders, path)
	}
	return stderrors.Join(errs...)
}

// Compile-time interface verification.
var _ mboxstore.MsgStore = (*Store)(nil)
