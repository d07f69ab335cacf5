package mem

import (
	"unsafe"

	"defs"
	"diag"
)

/// entriesPerPage is the number of PTE slots in one page-table node.
const entriesPerPage = PGSIZE / 8

/// SATP_MODE is the mode field Sv39 stores in the top bits of satp.
const SATP_MODE = 8

/// pmapEntries reinterprets a frame as an array of page table entries,
/// the Sv39 analogue of the teacher's Pmap_t.
func pmapEntries(phys *Physmem_t, ppn PhysPageNum) *[entriesPerPage]PTE {
	return (*[entriesPerPage]PTE)(unsafe.Pointer(phys.Bytes(ppn)))
}

/// PageTable owns a chain of frames (root plus any intermediate
/// directories it allocates) rooted at Root. Leaf frames named by its
/// entries are owned by the areas that mapped them, not by the table;
/// Map takes no reference on them, and vm.FromExistedUser copies into
/// fresh frames rather than sharing them.
type PageTable struct {
	Root   PhysPageNum
	frames []PhysPageNum // frames this table itself owns (root + directories)
}

/// NewPageTable allocates a fresh, empty root page table.
func NewPageTable() (*PageTable, defs.Err_t) {
	root, ok := Physmem.FrameAlloc()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &PageTable{Root: root, frames: []PhysPageNum{root}}, 0
}

/// FromToken builds a non-owning PageTable view over the page table
/// rooted at the satp token's PPN, used to translate another task's
/// user addresses without taking ownership of its frames.
func FromToken(token uint64) *PageTable {
	return &PageTable{Root: PhysPageNum(token & ((1 << PPN_BITS) - 1))}
}

/// Token encodes the page table's root as an Sv39 satp value.
func (pt *PageTable) Token() uint64 {
	return uint64(SATP_MODE)<<60 | uint64(pt.Root)
}

// findPTE walks the table, allocating intermediate directories when
// alloc is true. It returns nil if the walk runs off the end of an
// unmapped, non-allocating path.
func (pt *PageTable) findPTE(vpn VirtPageNum, alloc bool) *PTE {
	idxs := vpn.Indexes()
	ppn := pt.Root
	for level := 0; level < SV39_LEVELS; level++ {
		entries := pmapEntries(Physmem, ppn)
		pte := &entries[idxs[level]]
		if level == SV39_LEVELS-1 {
			return pte
		}
		if !pte.Valid() {
			if !alloc {
				return nil
			}
			nf, ok := Physmem.FrameAlloc()
			if !ok {
				return nil
			}
			pt.frames = append(pt.frames, nf)
			*pte = MkPTE(nf, PTE_V)
		}
		ppn = pte.PPN()
	}
	diag.Dump(1)
	panic("unreachable")
}

/// Map installs a leaf mapping from vpn to ppn with the given flags. It
/// reports an error if the slot is already mapped (PageAlreadyMapped in
/// spec terms) or if a directory frame could not be allocated.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) defs.Err_t {
	pte := pt.findPTE(vpn, true)
	if pte == nil {
		return -defs.ENOMEM
	}
	if pte.Valid() {
		return -defs.EINVAL
	}
	*pte = MkPTE(ppn, flags|PTE_V)
	return 0
}

/// Unmap clears the leaf mapping at vpn. It is a no-op, not an error, if
/// the page was never mapped, matching the source's "don't fail if
/// already absent" unmap_one behavior.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	pte := pt.findPTE(vpn, false)
	if pte == nil || !pte.Valid() {
		return
	}
	*pte = 0
}

/// Translate returns the PTE mapping vpn, and whether one exists.
func (pt *PageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	pte := pt.findPTE(vpn, false)
	if pte == nil || !pte.Valid() {
		return 0, false
	}
	return *pte, true
}

/// TranslateVA resolves a virtual address to its physical address,
/// honoring the page offset.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	pte, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return PhysAddr(uint64(pte.PPN())<<PGSHIFT | va.PageOffset()), true
}

/// Free releases the root frame and every intermediate directory frame
/// this table allocated. A FromToken view owns no frames (its frames
/// slice is nil) and so is a no-op here, matching the spec's "must never
/// free" contract for non-owning views.
func (pt *PageTable) Free() {
	for _, ppn := range pt.frames {
		Physmem.Refdown(ppn)
	}
	pt.frames = nil
}
