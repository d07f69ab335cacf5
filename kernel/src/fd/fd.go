// Package fd implements the per-task file descriptor table. The actual
// read/write/stat logic lives behind the File_i interface so fd stays
// ignorant of whatever backs a descriptor (an in-memory file, or a
// device sink like stdin/stdout).
package fd

import (
	"sync"

	"defs"
)

/// File descriptor permission bits.
const (
	FD_READ  = 0x1 /// read permission
	FD_WRITE = 0x2 /// write permission
)

/// File_i is implemented by anything that can sit behind a descriptor:
/// in-memory files (package fs) and device stubs (stdio).
type File_i interface {
	Read(dst []uint8) (int, defs.Err_t)
	Write(src []uint8) (int, defs.Err_t)
	Stat() ([]uint8, defs.Err_t)
	Close() defs.Err_t
}

/// Fd_t represents one open file descriptor slot.
type Fd_t struct {
	File     File_i /// backing file or device
	Readable bool
	Writable bool
}

/// MkFd builds a descriptor over file with the given access mode.
func MkFd(file File_i, readable, writable bool) *Fd_t {
	return &Fd_t{File: file, Readable: readable, Writable: writable}
}

/// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.File.Close() != 0 {
		panic("must succeed")
	}
}

/// Table_t is a process's open file descriptor table. Slots are
/// reused; fd numbers are simply indices into Fds.
type Table_t struct {
	sync.Mutex
	Fds   []*Fd_t
	Limit int
}

/// MkTable returns an empty table that can hold up to limit descriptors.
func MkTable(limit int) *Table_t {
	return &Table_t{Limit: limit}
}

/// Alloc installs f in the lowest free slot and returns its fd number.
/// It fails with EMFILE if the table is already at its limit.
func (t *Table_t) Alloc(f *Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i, cur := range t.Fds {
		if cur == nil {
			t.Fds[i] = f
			return i, 0
		}
	}
	if len(t.Fds) >= t.Limit {
		return -1, -defs.EMFILE
	}
	t.Fds = append(t.Fds, f)
	return len(t.Fds) - 1, 0
}

/// Get returns the descriptor at fdnum, or nil if it is out of range or
/// unused.
func (t *Table_t) Get(fdnum int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	if fdnum < 0 || fdnum >= len(t.Fds) {
		return nil
	}
	return t.Fds[fdnum]
}

/// Close releases the slot at fdnum. It reports EBADF if the slot was
/// already empty or out of range.
func (t *Table_t) Close(fdnum int) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if fdnum < 0 || fdnum >= len(t.Fds) || t.Fds[fdnum] == nil {
		return -defs.EBADF
	}
	f := t.Fds[fdnum]
	t.Fds[fdnum] = nil
	return f.File.Close()
}

/// Clone produces a new table referencing the same descriptors, used by
/// fork. Descriptors are shared rather than reopened: this module has
/// no notion of an independent file offset to duplicate.
func (t *Table_t) Clone(limit int) *Table_t {
	t.Lock()
	defer t.Unlock()
	nt := MkTable(limit)
	nt.Fds = make([]*Fd_t, len(t.Fds))
	copy(nt.Fds, t.Fds)
	return nt
}
