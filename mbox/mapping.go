//go:build unix

package mbox

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	mserrors "github.com/infodancer/mboxstore/errors"
)

// mapping holds the file contents in memory, either as a MAP_SHARED
// mapping or, with buffered set, as a copy read with ReadAt.
// Every Unmap bumps gen; views taken under an older generation are
// rejected instead of dereferenced.
type mapping struct {
	f        *os.File
	writable bool
	buffered bool

	data   []byte
	mapped bool // data came from unix.Mmap
	gen    uint64
}

// view is a generation-checked reference to the mapped bytes.
type view struct {
	m   *mapping
	gen uint64
}

func newMapping(f *os.File, writable, buffered bool) *mapping {
	return &mapping{f: f, writable: writable, buffered: buffered}
}

// Map maps size bytes of the file. Any previous mapping must be unmapped.
func (m *mapping) Map(size int64) error {
	if m.data != nil {
		return fmt.Errorf("%w: map: already mapped", mserrors.ErrStorage)
	}
	if size == 0 {
		// mmap rejects zero lengths
		m.data = []byte{}
		return nil
	}
	if int64(int(size)) != size {
		return fmt.Errorf("%w: map: file too large (%d bytes)", mserrors.ErrStorage, size)
	}

	if m.buffered {
		buf := make([]byte, size)
		if _, err := m.f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return fmt.Errorf("%w: read %s: %v", mserrors.ErrStorage, m.f.Name(), err)
		}
		m.data = buf
		return nil
	}

	prot := unix.PROT_READ
	if m.writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap %s: %v", mserrors.ErrStorage, m.f.Name(), err)
	}
	m.data = data
	m.mapped = true
	return nil
}

// Unmap releases the mapping and invalidates all views.
func (m *mapping) Unmap() error {
	m.gen++
	data, mapped := m.data, m.mapped
	m.data, m.mapped = nil, false
	if !mapped || len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("%w: munmap: %v", mserrors.ErrStorage, err)
	}
	return nil
}

// Remap replaces the mapping with one of the given size.
func (m *mapping) Remap(size int64) error {
	if err := m.Unmap(); err != nil {
		return err
	}
	return m.Map(size)
}

// Sync flushes dirty pages. It is best effort: the buffered strategy
// writes through on WriteAt and only needs an fsync.
func (m *mapping) Sync() error {
	if m.mapped && len(m.data) > 0 {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("%w: msync: %v", mserrors.ErrStorage, err)
		}
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", mserrors.ErrStorage, err)
	}
	return nil
}

// WriteAt stores p at off, which must lie within the mapped size.
func (m *mapping) WriteAt(p []byte, off int64) (int, error) {
	if !m.writable {
		return 0, mserrors.ErrReadOnly
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: write [%d,%d) outside mapping of %d bytes",
			mserrors.ErrStorage, off, off+int64(len(p)), len(m.data))
	}
	if m.buffered {
		n, err := m.f.WriteAt(p, off)
		copy(m.data[off:], p[:n])
		if err != nil {
			return n, fmt.Errorf("%w: write %s: %v", mserrors.ErrStorage, m.f.Name(), err)
		}
		return n, nil
	}
	return copy(m.data[off:], p), nil
}

// Size is the number of bytes currently mapped.
func (m *mapping) Size() int64 { return int64(len(m.data)) }

// View returns a reference valid until the next Unmap.
func (m *mapping) View() view { return view{m: m, gen: m.gen} }

// Bytes returns the mapped bytes, or ErrStaleMapping if the mapping was
// replaced since the view was taken.
func (v view) Bytes() ([]byte, error) {
	if v.m == nil || v.gen != v.m.gen || v.m.data == nil {
		return nil, mserrors.ErrStaleMapping
	}
	return v.m.data, nil
}
