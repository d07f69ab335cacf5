package vm

import (
	"defs"
	"mem"
)

// pageBytes returns the backing bytes for the page containing va in
// the address space identified by token, starting at va's offset into
// that page — the Sv39 analogue of the teacher's Userdmap8_inner.
func pageBytes(token uint64, va mem.VirtAddr) ([]uint8, defs.Err_t) {
	pt := mem.FromToken(token)
	pte, ok := pt.Translate(va.Floor())
	if !ok {
		return nil, -defs.EFAULT
	}
	pg := mem.Pg2bytes(mem.Physmem.Bytes(pte.PPN()))
	return pg[va.PageOffset():], 0
}

/// TranslatedByteBuffer splits the len bytes starting at user address
/// va into one []uint8 per page, the same scatter-list shape
/// Userbuf_t/UserBuffer use, since a user region need not be physically
/// contiguous.
func TranslatedByteBuffer(token uint64, va mem.VirtAddr, length int) ([][]uint8, defs.Err_t) {
	var out [][]uint8
	start := va
	remaining := length
	for remaining > 0 {
		chunk, err := pageBytes(token, start)
		if err != 0 {
			return nil, err
		}
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk)
		remaining -= len(chunk)
		start = mem.VirtAddr(uint64(start) + uint64(len(chunk)))
	}
	return out, 0
}

/// TranslatedStr copies a NUL-terminated string out of user memory.
func TranslatedStr(token uint64, va mem.VirtAddr) (string, defs.Err_t) {
	var out []byte
	cur := va
	for {
		chunk, err := pageBytes(token, cur)
		if err != 0 {
			return "", err
		}
		for i, c := range chunk {
			if c == 0 {
				out = append(out, chunk[:i]...)
				return string(out), 0
			}
		}
		out = append(out, chunk...)
		cur = mem.VirtAddr(uint64(cur) + uint64(len(chunk)))
	}
}

/// TranslatedRefWrite writes val (little-endian, n bytes) to the user
/// address va, the bridge sys_get_time uses to hand back its TimeVal
/// fields. n must be 1, 2, 4, or 8.
func TranslatedRefWrite(token uint64, va mem.VirtAddr, n int, val uint64) defs.Err_t {
	bufs, err := TranslatedByteBuffer(token, va, n)
	if err != 0 {
		return err
	}
	off := 0
	for _, b := range bufs {
		for i := range b {
			b[i] = uint8(val >> (8 * uint(off+i)))
		}
		off += len(b)
	}
	return 0
}

/// WriteVA copies data into the address space identified by token
/// starting at va, scattering across page boundaries the same way
/// TranslatedByteBuffer does. Used to install the initial trap context
/// and to poke a child's saved registers after fork.
func WriteVA(token uint64, va mem.VirtAddr, data []uint8) defs.Err_t {
	bufs, err := TranslatedByteBuffer(token, va, len(data))
	if err != 0 {
		return err
	}
	MkUserBuffer(bufs).Write(data)
	return 0
}

/// ReadVA copies len(out) bytes from va in the address space identified
/// by token into out.
func ReadVA(token uint64, va mem.VirtAddr, out []uint8) defs.Err_t {
	bufs, err := TranslatedByteBuffer(token, va, len(out))
	if err != 0 {
		return err
	}
	MkUserBuffer(bufs).Read(out)
	return 0
}

/// UserBuffer is a reusable scatter-gather view over the slices
/// TranslatedByteBuffer returns, supporting sequential Read/Write like
/// the teacher's Userbuf_t.
type UserBuffer struct {
	bufs [][]uint8
}

/// MkUserBuffer wraps the given scatter list.
func MkUserBuffer(bufs [][]uint8) *UserBuffer {
	return &UserBuffer{bufs: bufs}
}

/// Len reports the total number of bytes addressable through ub.
func (ub *UserBuffer) Len() int {
	n := 0
	for _, b := range ub.bufs {
		n += len(b)
	}
	return n
}

/// Write copies src into the user buffers in order and returns the
/// number of bytes copied.
func (ub *UserBuffer) Write(src []uint8) int {
	total := 0
	for _, b := range ub.bufs {
		if len(src) == 0 {
			break
		}
		n := copy(b, src)
		src = src[n:]
		total += n
	}
	return total
}

/// Read copies from the user buffers into dst and returns the number of
/// bytes copied.
func (ub *UserBuffer) Read(dst []uint8) int {
	total := 0
	for _, b := range ub.bufs {
		if len(dst) == 0 {
			break
		}
		n := copy(dst, b)
		dst = dst[n:]
		total += n
	}
	return total
}
