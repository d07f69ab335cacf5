package vm

import (
	"debug/elf"
	"sort"

	"defs"
	"mem"
)

/// TrapCxSize and UserStackSize size the two framed areas every user
/// address space carries above the guard page, matching the
/// layout the teaching kernel this module targets uses for the trap
/// context save area and the initial user stack.
const (
	UserStackSize  = 8 * mem.PGSIZE
	TrapCxSize     = mem.PGSIZE
	GuardPageSize  = mem.PGSIZE
)

/// NewKernelMemorySet builds the identity-mapped address space the
/// kernel itself runs in, covering [physStart, physEnd) of the frame
/// pool's arena as R/W/X pages (no global bit is set). Trap vector
/// wiring and device MMIO mappings are out of scope; the result holds
/// only this one Identical area.
func NewKernelMemorySet(physStart, physEnd mem.PhysAddr) (*MemorySet, defs.Err_t) {
	ms, err := NewMemorySet()
	if err != 0 {
		return nil, err
	}
	ma := NewMapArea(mem.VirtAddr(physStart), mem.VirtAddr(physEnd), Identical, PERM_R|PERM_W|PERM_X)
	if err := ms.push(ma, nil); err != 0 {
		return nil, err
	}
	return ms, 0
}

/// FromELF builds a fresh user address space from an ELF image: one
/// Framed area per PT_LOAD segment, one unmapped guard page above the
/// highest segment's last page, a fixed-size user stack immediately
/// above the guard page, and a trap-context area
/// immediately above the stack. It returns the new set, the initial
/// user stack pointer, the trap-context area's base address, and the
/// entry point.
func FromELF(image []uint8) (*MemorySet, mem.VirtAddr, mem.VirtAddr, mem.VirtAddr, defs.Err_t) {
	f, ferr := elf.NewFile(byteReaderAt(image))
	if ferr != nil {
		return nil, 0, 0, 0, -defs.EINVAL
	}
	ms, err := NewMemorySet()
	if err != 0 {
		return nil, 0, 0, 0, err
	}
	var maxEnd mem.VirtAddr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		perm := PERM_U
		if prog.Flags&elf.PF_R != 0 {
			perm |= PERM_R
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PERM_W
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PERM_X
		}
		start := mem.VirtAddr(prog.Vaddr)
		end := mem.VirtAddr(prog.Vaddr + prog.Memsz)
		data := make([]uint8, prog.Filesz)
		if _, rerr := prog.ReadAt(data, 0); rerr != nil {
			return nil, 0, 0, 0, -defs.EINVAL
		}
		ma := NewMapArea(start, end, Framed, perm)
		if err := ms.push(ma, data); err != 0 {
			return nil, 0, 0, 0, err
		}
		if end > maxEnd {
			maxEnd = end
		}
	}
	guardBase := mem.VirtPageNum(maxEnd.Ceil()) + 1
	stackBottom := guardBase.Addr()
	stackTop := mem.VirtAddr(uint64(stackBottom) + uint64(UserStackSize))
	if err := ms.InsertFramedArea(stackBottom, stackTop, PERM_R|PERM_W|PERM_U); err != 0 {
		return nil, 0, 0, 0, err
	}
	trapCxBase := stackTop
	trapCxTop := mem.VirtAddr(uint64(trapCxBase) + uint64(TrapCxSize))
	// No PERM_U: the trap context page is readable/writable by the
	// kernel's own view of this address space only, never by user code.
	if err := ms.InsertFramedArea(trapCxBase, trapCxTop, PERM_R|PERM_W); err != 0 {
		return nil, 0, 0, 0, err
	}
	return ms, stackTop, trapCxBase, mem.VirtAddr(f.Entry), 0
}

/// FromExistedUser clones another user address space page-for-page
/// (no copy-on-write, which is an explicit non-goal): every Framed
/// area gets freshly allocated frames with the source's bytes copied
/// in, and every Identical area is simply remapped.
func FromExistedUser(src *MemorySet) (*MemorySet, defs.Err_t) {
	dst, err := NewMemorySet()
	if err != 0 {
		return nil, err
	}
	for _, ma := range src.Areas {
		nma := &MapArea{Range: ma.Range, Frames: map[mem.VirtPageNum]mem.PhysPageNum{}, Type: ma.Type, Perm: ma.Perm}
		if err := nma.Map(dst.PageTable); err != 0 {
			dst.Free()
			return nil, err
		}
		if ma.Type == Framed {
			if err := nma.EnsureAll(dst.PageTable); err != 0 {
				dst.Free()
				return nil, err
			}
			vpns := make([]mem.VirtPageNum, 0, len(ma.Frames))
			for vpn := range ma.Frames {
				vpns = append(vpns, vpn)
			}
			sort.Slice(vpns, func(i, j int) bool { return vpns[i] < vpns[j] })
			for _, vpn := range vpns {
				srcBytes := mem.Pg2bytes(mem.Physmem.Bytes(ma.Frames[vpn]))
				dstBytes := mem.Pg2bytes(mem.Physmem.Bytes(nma.Frames[vpn]))
				copy(dstBytes, srcBytes)
			}
		}
		dst.Areas = append(dst.Areas, nma)
	}
	return dst, 0
}

type byteReaderAt []uint8

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, errShortRead
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, errShortRead
	}
	return n, nil
}

type shortReadError string

func (e shortReadError) Error() string { return string(e) }

const errShortRead = shortReadError("short read of ELF image")
