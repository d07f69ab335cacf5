// Sv39 address and page-table-entry layout: 3 levels of 9-bit VPN
// indices over a 4KiB page, grounded on the bit-slicing idiom the
// teacher used for its (4-level, x86) pmap walk.
package mem

/// SV39_LEVELS is the number of page-table levels in Sv39.
const SV39_LEVELS = 3

/// VPN_BITS is the width, in bits, of a single VPN index.
const VPN_BITS = 9

/// PPN_BITS is the width, in bits, of the physical page number.
const PPN_BITS = 44

/// VirtAddr is a 39-bit (Sv39) virtual address.
type VirtAddr uint64

/// PhysAddr is a physical address within the frame pool's arena.
type PhysAddr uint64

/// VirtPageNum is a virtual address with the page offset stripped off.
type VirtPageNum uint64

/// PhysPageNum indexes a frame within Physmem_t's arena.
type PhysPageNum uint32

/// Floor returns the page number containing a, rounding toward zero.
func (a VirtAddr) Floor() VirtPageNum { return VirtPageNum(a >> PGSHIFT) }

/// Ceil returns a's page number rounded up: an exclusive end page for
/// a range ending at a, so a page-aligned a yields its own page number.
func (a VirtAddr) Ceil() VirtPageNum {
	if a == 0 {
		return 0
	}
	return VirtPageNum((uint64(a) + uint64(PGSIZE) - 1) >> PGSHIFT)
}

/// PageOffset returns the low, within-page bits of a.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & uint64(PGSIZE-1) }

/// Aligned reports whether a falls on a page boundary.
func (a VirtAddr) Aligned() bool { return a.PageOffset() == 0 }

/// Addr converts a virtual page number back to its base address.
func (v VirtPageNum) Addr() VirtAddr { return VirtAddr(uint64(v) << PGSHIFT) }

/// Addr converts a physical page number back to its base address.
func (p PhysPageNum) Addr() PhysAddr { return PhysAddr(uint64(p) << PGSHIFT) }

/// Floor returns the page number containing a.
func (a PhysAddr) Floor() PhysPageNum { return PhysPageNum(a >> PGSHIFT) }

/// PageOffset returns the low, within-page bits of a.
func (a PhysAddr) PageOffset() uint64 { return uint64(a) & uint64(PGSIZE-1) }

/// Indexes returns the three 9-bit VPN indices of v, ordered from the
/// root (level 2) down to the leaf (level 0), mirroring the teacher's
/// pgbits helper but for Sv39's three levels instead of x86's four.
func (v VirtPageNum) Indexes() [SV39_LEVELS]uint64 {
	var idx [SV39_LEVELS]uint64
	x := uint64(v)
	for i := 0; i < SV39_LEVELS; i++ {
		idx[SV39_LEVELS-1-i] = x & ((1 << VPN_BITS) - 1)
		x >>= VPN_BITS
	}
	return idx
}

/// Step advances a virtual page number by one page, mirroring
/// StepByOne in the source this module was distilled from.
func (v *VirtPageNum) Step() { *v++ }

/// VPNRange is a half-open range of virtual page numbers, [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

/// NewVPNRange builds a range covering [start, end).
func NewVPNRange(start, end VirtPageNum) VPNRange { return VPNRange{start, end} }

/// Len reports the number of pages in the range.
func (r VPNRange) Len() int { return int(r.End - r.Start) }

/// Contains reports whether vpn lies in [Start, End).
func (r VPNRange) Contains(vpn VirtPageNum) bool { return vpn >= r.Start && vpn < r.End }

/// Each calls f for every page number in the range, in ascending order.
func (r VPNRange) Each(f func(VirtPageNum)) {
	for v := r.Start; v < r.End; v++ {
		f(v)
	}
}

/// Intersect returns the overlap of r and o; the result has Len() == 0
/// when the ranges do not overlap.
func (r VPNRange) Intersect(o VPNRange) VPNRange {
	start := r.Start
	if o.Start > start {
		start = o.Start
	}
	end := r.End
	if o.End < end {
		end = o.End
	}
	if end < start {
		end = start
	}
	return VPNRange{start, end}
}
