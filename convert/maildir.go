//go:build unix

// Package convert copies messages between Maildir directories and mbox
// folders.
package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/mboxstore/mbox"
)

// importBatch is the number of messages appended under one lock.
const importBatch = 64

// ImportMaildir appends every message of the Maildir at dir to dst,
// oldest first. Messages flagged as trashed are skipped. Messages in new/
// are moved to cur/ as a side effect, as with any Maildir reader.
// It returns the number of messages imported.
func ImportMaildir(dir string, dst *mbox.Folder) (int, error) {
	md := maildir.Dir(dir)
	if _, err := md.Unseen(); err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	msgs, err := md.Messages()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	type entry struct {
		msg  *maildir.Message
		info os.FileInfo
	}
	entries := make([]entry, 0, len(msgs))
	for _, msg := range msgs {
		if slices.Contains(msg.Flags(), maildir.FlagTrashed) {
			continue
		}
		fi, err := os.Stat(msg.Filename())
		if err != nil {
			// removed by another reader
			continue
		}
		entries = append(entries, entry{msg: msg, info: fi})
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return a.info.ModTime().Compare(b.info.ModTime())
	})

	imported := 0
	batch := make([]mbox.AppendMessage, 0, importBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := dst.AddMessages(batch); err != nil {
			return err
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, e := range entries {
		data, err := readMessage(e.msg)
		if err != nil {
			return imported, err
		}
		batch = append(batch, mbox.AppendMessage{Data: data, Date: e.info.ModTime()})
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return imported, err
			}
		}
	}
	if err := flush(); err != nil {
		return imported, err
	}
	return imported, nil
}

func readMessage(msg *maildir.Message) ([]byte, error) {
	rc, err := msg.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", msg.Key(), err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", msg.Key(), err)
	}
	return data, nil
}

// ExportMaildir delivers every live message of src into the Maildir at
// dir, creating it if needed. It returns the number of messages exported.
func ExportMaildir(src *mbox.Folder, dir string) (int, error) {
	md := maildir.Dir(dir)
	if _, err := os.Stat(filepath.Join(dir, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return 0, err
		}
		if err := md.Init(); err != nil {
			return 0, err
		}
	}

	uids, _, err := src.NumList()
	if err != nil {
		return 0, err
	}
	exported := 0
	for _, uid := range uids {
		data, err := src.Fetch(uid)
		if err != nil {
			return exported, fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		// NewDelivery takes the directory path as a string
		delivery, err := maildir.NewDelivery(string(md))
		if err != nil {
			return exported, err
		}
		if _, err := io.Copy(delivery, bytes.NewReader(data)); err != nil {
			_ = delivery.Abort()
			return exported, err
		}
		if err := delivery.Close(); err != nil {
			return exported, err
		}
		exported++
	}
	return exported, nil
}
