package mbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// messageCache keeps fetched messages as files named by UID so callers
// that need a path can be handed one.
type messageCache struct {
	dir string
}

func (c *messageCache) path(uid uint32) string {
	return filepath.Join(c.dir, strconv.FormatUint(uint64(uid), 10))
}

// lookup returns the cached file for uid if there is one.
func (c *messageCache) lookup(uid uint32) (string, bool) {
	p := c.path(uid)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// store writes data for uid, replacing any previous copy.
func (c *messageCache) store(uid uint32, data []byte) (string, error) {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return "", fmt.Errorf("%w: create cache %s: %v", mserrors.ErrStorage, c.dir, err)
	}
	tmp, err := os.CreateTemp(c.dir, ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("%w: create cache file: %v", mserrors.ErrStorage, err)
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	p := c.path(uid)
	if err == nil {
		err = os.Rename(tmp.Name(), p)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: write cache file for uid %d: %v", mserrors.ErrStorage, uid, err)
	}
	return p, nil
}

func (c *messageCache) remove(uid uint32) error {
	err := os.Remove(c.path(uid))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove cache file for uid %d: %v", mserrors.ErrStorage, uid, err)
	}
	return nil
}

// clear removes every cached message. Other files, such as the sidecar,
// are left alone.
func (c *messageCache) clear() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read cache %s: %v", mserrors.ErrStorage, c.dir, err)
	}
	var errs []error
	for _, e := range entries {
		if _, ok := ParseUID(e.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: clear cache: %w", mserrors.ErrStorage, errors.Join(errs...))
	}
	return nil
}
