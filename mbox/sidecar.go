package mbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// sidecarName is the file in the folder cache directory that holds the
// last written UID.
const sidecarName = "max-uid"

// readSidecar returns the UID stored in dir, or 0 if there is none yet.
func readSidecar(dir string) (uint32, error) {
	b, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", mserrors.ErrStorage, sidecarName, err)
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: %s has %d bytes, want 4", mserrors.ErrStorage, sidecarName, len(b))
	}
	return binary.NativeEndian.Uint32(b), nil
}

// writeSidecar replaces the UID stored in dir.
func writeSidecar(dir string, uid uint32) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: create %s: %v", mserrors.ErrStorage, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+sidecarName+"-*")
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", mserrors.ErrStorage, sidecarName, err)
	}
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uid)
	_, err = tmp.Write(b[:])
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(dir, sidecarName))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: write %s: %v", mserrors.ErrStorage, sidecarName, err)
	}
	return nil
}
