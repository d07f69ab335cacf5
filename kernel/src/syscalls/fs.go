package syscalls

import (
	"defs"
	"fd"
	"fs"
	"mem"
	"ustr"
	"vm"
)

/// Write copies the current task's user buffer at [va, va+n) into the
/// file behind fdnum and returns the number of bytes written, or a
/// negative defs.Err_t.
func (s *Sys) Write(fdnum int, va mem.VirtAddr, n int) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	f := t.Inner.Fds.Get(fdnum)
	t.Unlock()
	if f == nil || !f.Writable {
		return int(-defs.EBADF)
	}
	bufs, err := vm.TranslatedByteBuffer(token, va, n)
	if err != 0 {
		return int(err)
	}
	written := 0
	for _, b := range bufs {
		wn, werr := f.File.Write(b)
		written += wn
		if werr != 0 {
			return int(werr)
		}
	}
	return written
}

/// Read copies up to n bytes from the file behind fdnum into the
/// current task's user buffer at va and returns the number of bytes
/// read, or a negative defs.Err_t.
func (s *Sys) Read(fdnum int, va mem.VirtAddr, n int) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	f := t.Inner.Fds.Get(fdnum)
	t.Unlock()
	if f == nil || !f.Readable {
		return int(-defs.EBADF)
	}
	bufs, err := vm.TranslatedByteBuffer(token, va, n)
	if err != 0 {
		return int(err)
	}
	read := 0
	for _, b := range bufs {
		rn, rerr := f.File.Read(b)
		read += rn
		if rerr != 0 {
			return int(rerr)
		}
		if rn < len(b) {
			break
		}
	}
	return read
}

/// Open resolves the NUL-terminated path at user address va against
/// root and installs it in the current task's fd table, returning the
/// new fd number or -1.
func (s *Sys) Open(root *fs.Root, va mem.VirtAddr, flags fs.OpenFlags) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	t.Unlock()
	path, err := vm.TranslatedStr(token, va)
	if err != 0 {
		return -1
	}
	h, ok := root.Open(ustr.Ustr(path), flags)
	if !ok {
		return -1
	}
	readable := flags&fs.WRONLY == 0
	writable := flags&(fs.WRONLY|fs.RDWR) != 0
	t.Lock()
	fdnum, aerr := t.Inner.Fds.Alloc(fd.MkFd(h, readable, writable))
	t.Unlock()
	if aerr != 0 {
		return -1
	}
	return fdnum
}

/// Close releases fdnum from the current task's fd table.
func (s *Sys) Close(fdnum int) int {
	t := s.current()
	t.Lock()
	err := t.Inner.Fds.Close(fdnum)
	t.Unlock()
	if err != 0 {
		return -1
	}
	return 0
}

/// Fstat copies the file behind fdnum's abi.Stat encoding into user
/// memory at va.
func (s *Sys) Fstat(fdnum int, va mem.VirtAddr) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	f := t.Inner.Fds.Get(fdnum)
	t.Unlock()
	if f == nil {
		return -1
	}
	raw, err := f.File.Stat()
	if err != 0 {
		return -1
	}
	bufs, berr := vm.TranslatedByteBuffer(token, va, len(raw))
	if berr != 0 {
		return -1
	}
	off := 0
	for _, b := range bufs {
		off += copy(b, raw[off:])
	}
	return 0
}

/// Linkat adds newPath (read from user memory) as another name for
/// oldPath in root.
func (s *Sys) Linkat(root *fs.Root, oldVa, newVa mem.VirtAddr) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	t.Unlock()
	oldPath, err := vm.TranslatedStr(token, oldVa)
	if err != 0 {
		return -1
	}
	newPath, err := vm.TranslatedStr(token, newVa)
	if err != 0 {
		return -1
	}
	if !root.Link(ustr.Ustr(oldPath), ustr.Ustr(newPath)) {
		return -1
	}
	return 0
}

/// Unlinkat removes the path read from user memory at va from root.
func (s *Sys) Unlinkat(root *fs.Root, va mem.VirtAddr) int {
	t := s.current()
	t.Lock()
	token := t.Inner.MemSet.Token()
	t.Unlock()
	path, err := vm.TranslatedStr(token, va)
	if err != 0 {
		return -1
	}
	if !root.Unlink(ustr.Ustr(path)) {
		return -1
	}
	return 0
}
