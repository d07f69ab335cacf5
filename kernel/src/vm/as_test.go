package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mem"
)

func freshSet(t *testing.T, npages int) *MemorySet {
	t.Helper()
	mem.Phys_init(npages)
	ms, err := NewMemorySet()
	require.Zero(t, err)
	return ms
}

func TestMapAreaLazyThenEnsureRange(t *testing.T) {
	ms := freshSet(t, 64)
	ma := NewMapArea(0, mem.VirtAddr(4*mem.PGSIZE), Framed, PERM_R|PERM_W)
	require.Zero(t, ma.Map(ms.PageTable))
	require.Empty(t, ma.Frames, "Map must not materialize frames for a Framed area")

	require.Zero(t, ma.EnsureAll(ms.PageTable))
	require.Len(t, ma.Frames, 4)
	for vpn, ppn := range ma.Frames {
		require.True(t, ma.Range.Contains(vpn), "invariant: every materialized vpn stays inside the area's range")
		pte, ok := ms.PageTable.Translate(vpn)
		require.True(t, ok)
		require.Equal(t, ppn, pte.PPN())
		require.True(t, pte.Valid())
		require.True(t, pte.Readable())
		require.True(t, pte.Writable())
		require.False(t, pte.Executable())
	}
}

func TestEnsurePageFailureLeavesNoPartialState(t *testing.T) {
	// Only enough frames for the root page table plus one data frame.
	ms := freshSet(t, 3)
	ma := NewMapArea(0, mem.VirtAddr(4*mem.PGSIZE), Framed, PERM_R|PERM_W)
	require.Zero(t, ma.Map(ms.PageTable))

	err := ma.EnsureAll(ms.PageTable)
	require.NotZero(t, err, "pool is too small to back all 4 pages")
	require.Empty(t, ma.Frames, "a failed EnsureRange must roll back everything it touched")
	for vpn := ma.Range.Start; vpn < ma.Range.End; vpn++ {
		_, ok := ms.PageTable.Translate(vpn)
		require.False(t, ok, "no partially-allocated page should remain mapped")
	}
}

func TestAreasDoNotOverlap(t *testing.T) {
	ms := freshSet(t, 64)
	require.Zero(t, ms.InsertFramedArea(0, mem.VirtAddr(2*mem.PGSIZE), PERM_R))
	err := ms.InsertFramedArea(mem.VirtAddr(mem.PGSIZE), mem.VirtAddr(3*mem.PGSIZE), PERM_R)
	require.NotZero(t, err, "overlapping areas must be rejected")
}

func TestSplitPartitionsFramesByKey(t *testing.T) {
	ms := freshSet(t, 64)
	ma := NewMapArea(0, mem.VirtAddr(4*mem.PGSIZE), Framed, PERM_R|PERM_W)
	require.Zero(t, ma.Map(ms.PageTable))
	require.Zero(t, ma.EnsureAll(ms.PageTable))

	original := make(map[mem.VirtPageNum]mem.PhysPageNum, len(ma.Frames))
	for k, v := range ma.Frames {
		original[k] = v
	}

	left, right := ma.Split(2)
	require.Equal(t, mem.NewVPNRange(0, 2), left.Range)
	require.Equal(t, mem.NewVPNRange(2, 4), right.Range)
	require.Equal(t, Framed, left.Type)
	require.Equal(t, Framed, right.Type)
	require.Equal(t, ma.Perm, left.Perm)
	require.Equal(t, ma.Perm, right.Perm)

	merged := make(map[mem.VirtPageNum]mem.PhysPageNum, len(original))
	for k, v := range left.Frames {
		merged[k] = v
	}
	for k, v := range right.Frames {
		merged[k] = v
	}
	require.Equal(t, original, merged)
}

func TestRemoveAreaWithStartVpnDropsAreaEntirely(t *testing.T) {
	ms := freshSet(t, 64)
	require.Zero(t, ms.InsertFramedArea(0, mem.VirtAddr(2*mem.PGSIZE), PERM_R|PERM_W))
	require.Len(t, ms.Areas, 1)

	require.True(t, ms.RemoveAreaWithStartVpn(0))
	require.Empty(t, ms.Areas, "redesigned munmap removes the area rather than collapsing it to zero length")

	// A later mmap of the same region must succeed now that the area is gone.
	require.Zero(t, ms.InsertFramedArea(0, mem.VirtAddr(2*mem.PGSIZE), PERM_R|PERM_W))
}

func TestAppendToMaterializesGrownPagesEagerly(t *testing.T) {
	ms := freshSet(t, 64)
	require.Zero(t, ms.InsertFramedArea(0, mem.VirtAddr(mem.PGSIZE), PERM_R|PERM_W))
	require.Zero(t, ms.AppendTo(0, mem.VirtAddr(3*mem.PGSIZE)))

	ma := ms.Areas[0]
	require.Equal(t, 3, ma.Range.Len())
	for vpn := mem.VirtPageNum(0); vpn < 3; vpn++ {
		_, ok := ma.Frames[vpn]
		require.True(t, ok, "AppendTo must back newly grown pages immediately, unlike the distilled source")
	}
}

func TestCopyDataRoundTripsThroughTranslatedByteBuffer(t *testing.T) {
	ms := freshSet(t, 64)
	ma := NewMapArea(0, mem.VirtAddr(2*mem.PGSIZE), Framed, PERM_R|PERM_W)
	require.Zero(t, ma.Map(ms.PageTable))

	data := make([]uint8, mem.PGSIZE+17)
	for i := range data {
		data[i] = uint8(i)
	}
	require.Zero(t, ma.CopyData(ms.PageTable, data))

	bufs, err := TranslatedByteBuffer(ms.Token(), 0, len(data)+5)
	require.Zero(t, err)
	var out []uint8
	for _, b := range bufs {
		out = append(out, b...)
	}
	require.Equal(t, data, out[:len(data)])
	for _, z := range out[len(data):] {
		require.Zero(t, z, "bytes past the written data must read back as zero")
	}
}

func TestFreeReleasesFramesAndPageTable(t *testing.T) {
	phys := mem.Phys_init(64)
	freeAtStart := phys.Free()

	ms, err := NewMemorySet()
	require.Zero(t, err)
	require.Zero(t, ms.InsertFramedArea(0, mem.VirtAddr(4*mem.PGSIZE), PERM_R|PERM_W))
	require.Less(t, phys.Free(), freeAtStart)

	ms.Free()
	require.Equal(t, freeAtStart, phys.Free(), "every frame the set touched must come back")
}
