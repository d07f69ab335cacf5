// Package vm implements address spaces: MapArea, MemorySet, and the
// user/kernel memory bridge (UserBuffer and friends). The overall shape
// — a mutex-guarded struct wrapping a page table plus an ordered list
// of mapped regions, with explicit Lock/Unlock helpers around every
// page-table mutation — follows the teacher's Vm_t; the region
// bookkeeping itself (MapArea/MapType/MapPermission, insert/shrink/
// append/split) follows the Sv39 teaching kernel this module targets.
package vm

import (
	"sort"
	"sync"

	"defs"
	"mem"
)

/// MapType distinguishes identity-mapped kernel regions from regions
/// backed by individually allocated frames.
type MapType int

const (
	Identical MapType = iota /// vpn == ppn, used for kernel text/data
	Framed                   /// each page backed by its own frame
)

/// MapPermission is the PTE_R/W/X/U subset of flags a MapArea grants;
/// V is added automatically when a page is actually mapped.
type MapPermission mem.PTEFlags

const (
	PERM_R MapPermission = MapPermission(mem.PTE_R)
	PERM_W MapPermission = MapPermission(mem.PTE_W)
	PERM_X MapPermission = MapPermission(mem.PTE_X)
	PERM_U MapPermission = MapPermission(mem.PTE_U)
)

/// MapArea is a contiguous range of virtual pages sharing one map type
/// and permission set. Framed areas lazily allocate one frame per page,
/// recorded in Frames so they can be released on unmap.
type MapArea struct {
	Range  mem.VPNRange
	Frames map[mem.VirtPageNum]mem.PhysPageNum
	Type   MapType
	Perm   MapPermission
}

/// NewMapArea creates an area covering [start, end), rounded outward to
/// page boundaries.
func NewMapArea(start, end mem.VirtAddr, mt MapType, perm MapPermission) *MapArea {
	return &MapArea{
		Range:  mem.NewVPNRange(start.Floor(), end.Ceil()),
		Frames: make(map[mem.VirtPageNum]mem.PhysPageNum),
		Type:   mt,
		Perm:   perm,
	}
}

func (ma *MapArea) pteFlags() mem.PTEFlags {
	return mem.PTEFlags(ma.Perm)
}

// mapOne installs the table entry for vpn. For Identical areas this
// finishes the mapping; for Framed areas it reserves the slot but does
// not allocate a backing frame (callers must ensurePage first).
func (ma *MapArea) mapOne(pt *mem.PageTable, vpn mem.VirtPageNum) defs.Err_t {
	switch ma.Type {
	case Identical:
		return pt.Map(vpn, mem.PhysPageNum(vpn), ma.pteFlags())
	case Framed:
		ppn, ok := ma.Frames[vpn]
		if !ok {
			return 0
		}
		return pt.Map(vpn, ppn, ma.pteFlags())
	}
	panic("bad map type")
}

func (ma *MapArea) unmapOne(pt *mem.PageTable, vpn mem.VirtPageNum) {
	if ma.Type == Framed {
		if ppn, ok := ma.Frames[vpn]; ok {
			mem.Physmem.Refdown(ppn)
			delete(ma.Frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// ensurePage allocates and maps a backing frame for vpn if this is a
// Framed area and the page has not been touched yet, rolling back the
// partial allocation on failure.
func (ma *MapArea) ensurePage(pt *mem.PageTable, vpn mem.VirtPageNum) defs.Err_t {
	if ma.Type != Framed {
		return 0
	}
	if _, ok := ma.Frames[vpn]; ok {
		return 0
	}
	ppn, ok := mem.Physmem.FrameAlloc()
	if !ok {
		return -defs.ENOMEM
	}
	ma.Frames[vpn] = ppn
	if err := pt.Map(vpn, ppn, ma.pteFlags()); err != 0 {
		delete(ma.Frames, vpn)
		mem.Physmem.Refdown(ppn)
		return err
	}
	return 0
}

/// EnsureRange materializes backing frames for every page of r that
/// falls within this area, rolling back anything it allocated if it
/// runs out of memory partway through.
func (ma *MapArea) EnsureRange(pt *mem.PageTable, r mem.VPNRange) defs.Err_t {
	r = ma.Range.Intersect(r)
	touched := make([]mem.VirtPageNum, 0, r.Len())
	var ferr defs.Err_t
	r.Each(func(vpn mem.VirtPageNum) {
		if ferr != 0 {
			return
		}
		if err := ma.ensurePage(pt, vpn); err != 0 {
			ferr = err
			return
		}
		touched = append(touched, vpn)
	})
	if ferr != 0 {
		for _, vpn := range touched {
			ma.unmapOne(pt, vpn)
		}
		return ferr
	}
	return 0
}

/// EnsureAll materializes every page in the area.
func (ma *MapArea) EnsureAll(pt *mem.PageTable) defs.Err_t {
	return ma.EnsureRange(pt, ma.Range)
}

/// Map installs every page-table entry for the area. Framed pages are
/// reserved but left unbacked until EnsureRange/EnsureAll runs.
func (ma *MapArea) Map(pt *mem.PageTable) defs.Err_t {
	var ferr defs.Err_t
	mapped := make([]mem.VirtPageNum, 0, ma.Range.Len())
	ma.Range.Each(func(vpn mem.VirtPageNum) {
		if ferr != 0 {
			return
		}
		if err := ma.mapOne(pt, vpn); err != 0 {
			ferr = err
			return
		}
		mapped = append(mapped, vpn)
	})
	if ferr != 0 {
		for _, vpn := range mapped {
			ma.unmapOne(pt, vpn)
		}
		return ferr
	}
	return 0
}

/// Unmap removes every page-table entry (and any backing frames) for
/// the area.
func (ma *MapArea) Unmap(pt *mem.PageTable) {
	ma.Range.Each(func(vpn mem.VirtPageNum) {
		ma.unmapOne(pt, vpn)
	})
}

/// ShrinkTo truncates the area to end at newEnd, unmapping the pages
/// dropped from the tail.
func (ma *MapArea) ShrinkTo(pt *mem.PageTable, newEnd mem.VirtPageNum) {
	mem.NewVPNRange(newEnd, ma.Range.End).Each(func(vpn mem.VirtPageNum) {
		ma.unmapOne(pt, vpn)
	})
	ma.Range = mem.NewVPNRange(ma.Range.Start, newEnd)
}

/// AppendTo extends the area to end at newEnd and materializes the new
/// pages immediately. The distilled source this is grounded on leaves
/// newly appended Framed pages unbacked (relying on a page-fault path
/// this module does not implement, since demand paging is explicitly
/// out of scope); AppendTo instead calls EnsureRange itself so a grown
/// region is always immediately usable.
func (ma *MapArea) AppendTo(pt *mem.PageTable, newEnd mem.VirtPageNum) defs.Err_t {
	grown := mem.NewVPNRange(ma.Range.End, newEnd)
	ma.Range = mem.NewVPNRange(ma.Range.Start, newEnd)
	var ferr defs.Err_t
	grown.Each(func(vpn mem.VirtPageNum) {
		if ferr != 0 {
			return
		}
		ferr = ma.mapOne(pt, vpn)
	})
	if ferr != 0 {
		return ferr
	}
	return ma.EnsureRange(pt, grown)
}

/// CopyData writes data into the area starting at its first page,
/// materializing frames as needed. Used to load ELF segment contents.
func (ma *MapArea) CopyData(pt *mem.PageTable, data []uint8) defs.Err_t {
	pages := (len(data) + mem.PGSIZE - 1) / mem.PGSIZE
	if pages > ma.Range.Len() {
		panic("data too large for area")
	}
	if err := ma.EnsureRange(pt, mem.NewVPNRange(ma.Range.Start, ma.Range.Start+mem.VirtPageNum(pages))); err != 0 {
		return err
	}
	vpn := ma.Range.Start
	for start := 0; start < len(data); start += mem.PGSIZE {
		end := start + mem.PGSIZE
		if end > len(data) {
			end = len(data)
		}
		ppn := ma.Frames[vpn]
		copy(mem.Pg2bytes(mem.Physmem.Bytes(ppn)), data[start:end])
		vpn.Step()
	}
	return 0
}

/// Split divides the area at vpn into (left, right); either half may be
/// empty if vpn falls outside the area's range.
func (ma *MapArea) Split(vpn mem.VirtPageNum) (*MapArea, *MapArea) {
	if vpn <= ma.Range.Start {
		return &MapArea{Range: mem.NewVPNRange(vpn, vpn), Frames: map[mem.VirtPageNum]mem.PhysPageNum{}, Type: ma.Type, Perm: ma.Perm}, ma
	}
	if vpn >= ma.Range.End {
		return ma, &MapArea{Range: mem.NewVPNRange(vpn, vpn), Frames: map[mem.VirtPageNum]mem.PhysPageNum{}, Type: ma.Type, Perm: ma.Perm}
	}
	left := &MapArea{Range: mem.NewVPNRange(ma.Range.Start, vpn), Frames: map[mem.VirtPageNum]mem.PhysPageNum{}, Type: ma.Type, Perm: ma.Perm}
	right := &MapArea{Range: mem.NewVPNRange(vpn, ma.Range.End), Frames: map[mem.VirtPageNum]mem.PhysPageNum{}, Type: ma.Type, Perm: ma.Perm}
	for k, v := range ma.Frames {
		if k < vpn {
			left.Frames[k] = v
		} else {
			right.Frames[k] = v
		}
	}
	return left, right
}

/// MemorySet is a process (or the kernel's) complete address space: a
/// page table plus the ordered areas mapped into it.
type MemorySet struct {
	sync.Mutex
	PageTable *mem.PageTable
	Areas     []*MapArea
}

/// NewMemorySet allocates an empty address space with a fresh root page
/// table.
func NewMemorySet() (*MemorySet, defs.Err_t) {
	pt, err := mem.NewPageTable()
	if err != 0 {
		return nil, err
	}
	return &MemorySet{PageTable: pt}, 0
}

/// Token returns the satp value identifying this address space.
func (ms *MemorySet) Token() uint64 {
	return ms.PageTable.Token()
}

/// InsertFramedArea maps a new, eagerly-backed Framed area over
/// [start, end) with the given permission and adds it to the set.
func (ms *MemorySet) InsertFramedArea(start, end mem.VirtAddr, perm MapPermission) defs.Err_t {
	ma := NewMapArea(start, end, Framed, perm)
	return ms.push(ma, nil)
}

// push maps ma, optionally loading data into it, and appends it to
// Areas only on success. Overlap is rejected against every existing
// area's range up front: Framed areas with no backing frame yet would
// otherwise map_one as a silent no-op and never trip the page table's
// own already-mapped check, letting two lazily-unbacked areas coexist
// over the same VPNs.
//
// mapOne itself never allocates a backing frame for a Framed page, so
// Map alone leaves every page of ma unbacked. When data is given,
// CopyData's own EnsureRange call backs the pages it writes; when data
// is nil (InsertFramedArea's case), push must call EnsureAll itself or
// the area is left entirely unbacked, with no page-fault path in this
// module to ever fill it in.
func (ms *MemorySet) push(ma *MapArea, data []uint8) defs.Err_t {
	for _, existing := range ms.Areas {
		if ma.Range.Intersect(existing.Range).Len() > 0 {
			return -defs.EINVAL
		}
	}
	if err := ma.Map(ms.PageTable); err != 0 {
		return err
	}
	if data != nil {
		if err := ma.CopyData(ms.PageTable, data); err != 0 {
			ma.Unmap(ms.PageTable)
			return err
		}
	} else {
		if err := ma.EnsureAll(ms.PageTable); err != 0 {
			ma.Unmap(ms.PageTable)
			return err
		}
	}
	ms.Areas = append(ms.Areas, ma)
	return 0
}

/// RemoveAreaWithStartVpn removes and unmaps the area beginning exactly
/// at startVpn, reporting whether one was found.
func (ms *MemorySet) RemoveAreaWithStartVpn(startVpn mem.VirtPageNum) bool {
	for i, ma := range ms.Areas {
		if ma.Range.Start == startVpn {
			ma.Unmap(ms.PageTable)
			ms.Areas = append(ms.Areas[:i], ms.Areas[i+1:]...)
			return true
		}
	}
	return false
}

/// areaContaining returns the area covering vpn, if any.
func (ms *MemorySet) areaContaining(vpn mem.VirtPageNum) *MapArea {
	for _, ma := range ms.Areas {
		if ma.Range.Contains(vpn) {
			return ma
		}
	}
	return nil
}

/// ShrinkTo shrinks the area starting at start so that it ends at end,
/// unmapping the tail that falls out of range. It reports whether a
/// matching area was found.
func (ms *MemorySet) ShrinkTo(start, end mem.VirtAddr) bool {
	ma := ms.areaContaining(start.Floor())
	if ma == nil || ma.Range.Start != start.Floor() {
		return false
	}
	ma.ShrinkTo(ms.PageTable, end.Ceil())
	return true
}

/// AppendTo grows the area starting at start so that it ends at end,
/// eagerly materializing the newly covered pages (see MapArea.AppendTo).
func (ms *MemorySet) AppendTo(start, end mem.VirtAddr) defs.Err_t {
	ma := ms.areaContaining(start.Floor())
	if ma == nil || ma.Range.Start != start.Floor() {
		return -defs.EINVAL
	}
	return ma.AppendTo(ms.PageTable, end.Ceil())
}

/// Translate resolves vpn to its mapped PTE, if any.
func (ms *MemorySet) Translate(vpn mem.VirtPageNum) (mem.PTE, bool) {
	return ms.PageTable.Translate(vpn)
}

/// RangeMapped reports whether every page of [start, end) has a present
/// page-table mapping (wantPresent true) or has none (wantPresent
/// false), used by mmap/munmap to validate the requested region before
/// acting. Only the page table is consulted, not the area list.
func (ms *MemorySet) RangeMapped(start, end mem.VirtAddr, wantPresent bool) bool {
	ok := true
	mem.NewVPNRange(start.Floor(), end.Ceil()).Each(func(vpn mem.VirtPageNum) {
		if !ok {
			return
		}
		_, present := ms.PageTable.Translate(vpn)
		if present != wantPresent {
			ok = false
		}
	})
	return ok
}

/// Free drops every area and its frames, then releases the page table's
/// own root and intermediate directory frames, used when a task exits.
func (ms *MemorySet) Free() {
	for _, ma := range ms.Areas {
		ma.Unmap(ms.PageTable)
	}
	ms.Areas = nil
	ms.PageTable.Free()
}

// sortedAreaStarts is used by tests that need deterministic iteration
// order over Areas.
func (ms *MemorySet) sortedAreaStarts() []mem.VirtPageNum {
	starts := make([]mem.VirtPageNum, len(ms.Areas))
	for i, ma := range ms.Areas {
		starts[i] = ma.Range.Start
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}
