// Package mem manages the kernel's pool of physical page frames.
//
// Pages are modeled as fixed-size byte arrays inside a single
// preallocated arena (there is no real physical memory to dmap into;
// Physmem_t is itself the "physical memory" backing every PageTable and
// every framed MapArea). The allocator is a refcounted free list
// protected by a single mutex: SMP is explicitly out of scope, so there
// is no per-CPU free list here, unlike the teacher's Physmem_t.
package mem

import (
	"sync"
	"sync/atomic"

	"diag"
	"oommsg"
	"util"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// Pg_t is a single page-sized byte array.
type Pg_t [PGSIZE]uint8

/// Physpg_t tracks one physical frame's refcount and free-list link.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32
}

/// Physmem_t is the system-wide pool of physical page frames.
///
/// Frame zero is never handed out; PhysPageNum(0) is used as the
/// sentinel "no frame" value throughout mem and vm.
type Physmem_t struct {
	sync.Mutex
	pages   []Pg_t
	meta    []Physpg_t
	freei   uint32
	freelen int32
}

/// ErrOOM is returned when the frame pool is exhausted.
const ErrOOM = memError("out of physical frames")

type memError string

func (e memError) Error() string { return string(e) }

/// Physmem is the global physical frame pool.
var Physmem = &Physmem_t{}

/// Phys_init reserves npages frames and returns the initialized pool.
/// Frame 0 is reserved as the "invalid" sentinel frame.
func Phys_init(npages int) *Physmem_t {
	if npages < 2 {
		panic("too few frames")
	}
	phys := Physmem
	phys.pages = make([]Pg_t, npages)
	phys.meta = make([]Physpg_t, npages)
	for i := 1; i < npages; i++ {
		phys.meta[i].nexti = uint32(i + 1)
	}
	phys.meta[npages-1].nexti = ^uint32(0)
	phys.freei = 1
	phys.freelen = int32(npages - 1)
	return phys
}

/// Nframes reports the total number of frames in the pool.
func (phys *Physmem_t) Nframes() int {
	return len(phys.pages)
}

/// Free reports the number of unallocated frames.
func (phys *Physmem_t) Free() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

/// Refcnt returns the current reference count of the frame at ppn.
func (phys *Physmem_t) Refcnt(ppn PhysPageNum) int {
	return int(atomic.LoadInt32(&phys.meta[ppn].Refcnt))
}

/// Refup increments the reference count of the frame at ppn.
func (phys *Physmem_t) Refup(ppn PhysPageNum) {
	if c := atomic.AddInt32(&phys.meta[ppn].Refcnt, 1); c <= 0 {
		diag.Dump(1)
		panic("refup: bad refcount")
	}
}

/// Refdown decrements the reference count of the frame at ppn and frees
/// it back to the pool when it reaches zero. It reports whether the
/// frame was freed.
func (phys *Physmem_t) Refdown(ppn PhysPageNum) bool {
	c := atomic.AddInt32(&phys.meta[ppn].Refcnt, -1)
	if c < 0 {
		diag.Dump(1)
		panic("refdown: bad refcount")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	phys.meta[ppn].nexti = phys.freei
	phys.freei = uint32(ppn)
	phys.freelen++
	phys.Unlock()
	return true
}

/// FrameAlloc removes a zeroed frame from the free list and returns its
/// page number with its refcount set to one. It returns false when the
/// pool is exhausted, after posting a best-effort notice on
/// oommsg.OomCh for anything listening (e.g. cmd/kernelctl's OOM
/// logger).
func (phys *Physmem_t) FrameAlloc() (PhysPageNum, bool) {
	phys.Lock()
	if phys.freei == ^uint32(0) {
		phys.Unlock()
		notifyOOM(1)
		return 0, false
	}
	idx := phys.freei
	phys.freei = phys.meta[idx].nexti
	phys.freelen--
	if phys.freelen < 0 {
		panic("negative freelen")
	}
	phys.meta[idx].Refcnt = 1
	phys.Unlock()
	pg := &phys.pages[idx]
	for i := range pg {
		pg[i] = 0
	}
	return PhysPageNum(idx), true
}

/// Bytes returns the raw backing storage for the frame at ppn.
func (phys *Physmem_t) Bytes(ppn PhysPageNum) *Pg_t {
	return &phys.pages[ppn]
}

/// Pg2bytes reinterprets a page as a flat byte slice.
func Pg2bytes(pg *Pg_t) []uint8 {
	return pg[:]
}

/// Roundup rounds n up to the nearest multiple of PGSIZE, exposed for
/// callers outside this package that size framed regions.
func Roundup(n int) int {
	return util.Roundup(n, PGSIZE)
}

// notifyOOM posts a non-blocking notice on oommsg.OomCh; a missing or
// busy listener must never stall the allocator, so a full channel is
// simply dropped.
func notifyOOM(need int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need}:
	default:
	}
}
