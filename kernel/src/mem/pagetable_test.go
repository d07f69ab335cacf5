package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageTableMapTranslateUnmap(t *testing.T) {
	Phys_init(64)
	pt, err := NewPageTable()
	require.Zero(t, err)

	vpn := VirtPageNum(5)
	ppn, ok := Physmem.FrameAlloc()
	require.True(t, ok)

	require.Zero(t, pt.Map(vpn, ppn, PTE_R|PTE_W))
	pte, ok := pt.Translate(vpn)
	require.True(t, ok)
	require.Equal(t, ppn, pte.PPN())
	require.True(t, pte.Readable())
	require.True(t, pte.Writable())
	require.False(t, pte.Executable())

	pt.Unmap(vpn)
	_, ok = pt.Translate(vpn)
	require.False(t, ok)
}

func TestPageTableMapAlreadyMappedFails(t *testing.T) {
	Phys_init(64)
	pt, _ := NewPageTable()
	ppn, _ := Physmem.FrameAlloc()
	require.Zero(t, pt.Map(1, ppn, PTE_R))
	err := pt.Map(1, ppn, PTE_R)
	require.NotZero(t, err)
}

func TestPageTableTokenRoundTrip(t *testing.T) {
	Phys_init(16)
	pt, _ := NewPageTable()
	token := pt.Token()
	view := FromToken(token)
	require.Equal(t, pt.Root, view.Root)
}

func TestPageTableFreeReleasesOwnedFrames(t *testing.T) {
	phys := Phys_init(64)
	freeAtStart := phys.Free()
	pt, _ := NewPageTable()
	require.Equal(t, freeAtStart-1, phys.Free(), "allocating the root consumes exactly one frame")

	// Force an intermediate directory allocation by mapping a VPN whose
	// upper-level slots aren't populated yet. The leaf frame is owned by
	// the caller, not pt, so pt.Free must not touch it.
	ppn, _ := phys.FrameAlloc()
	require.Zero(t, pt.Map(VirtPageNum(1)<<(2*VPN_BITS), ppn, PTE_R))
	afterMap := phys.Free()
	require.Less(t, afterMap, freeAtStart-1, "mapping should have consumed directory frames too")

	pt.Free()
	require.Equal(t, freeAtStart-1, phys.Free(), "root and directory frames returned, but the externally-owned leaf frame stays charged")
}

func TestFromTokenViewNeverFrees(t *testing.T) {
	phys := Phys_init(16)
	pt, _ := NewPageTable()
	view := FromToken(pt.Token())
	freeBefore := phys.Free()
	view.Free()
	require.Equal(t, freeBefore, phys.Free(), "a non-owning view must not release the real table's frames")
}
