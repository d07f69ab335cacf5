package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"abi"
	"ustr"
)

func TestOpenCreatesOnMissingWithCreateFlag(t *testing.T) {
	root := NewRoot()
	_, ok := root.Find(ustr.Ustr("missing"))
	require.False(t, ok)

	h, ok := root.Open(ustr.Ustr("missing"), CREATE|RDWR)
	require.True(t, ok)
	require.NotNil(t, h)
}

func TestWriteReadRoundTrip(t *testing.T) {
	root := NewRoot()
	h, ok := root.Open(ustr.Ustr("a"), CREATE|RDWR)
	require.True(t, ok)

	n, err := h.Write([]byte("hello"))
	require.Zero(t, err)
	require.Equal(t, 5, n)

	h2, ok := root.Find(ustr.Ustr("a"))
	require.True(t, ok)
	buf := make([]byte, 5)
	n, err = h2.Read(buf)
	require.Zero(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestLinkatUnlinkatScenario(t *testing.T) {
	root := NewRoot()
	ha, ok := root.Open(ustr.Ustr("a"), CREATE|RDWR)
	require.True(t, ok)
	_, err := ha.Write([]byte("data"))
	require.Zero(t, err)

	require.True(t, root.Link(ustr.Ustr("a"), ustr.Ustr("b")))

	statA, err := ha.Stat()
	require.Zero(t, err)
	hb, ok := root.Find(ustr.Ustr("b"))
	require.True(t, ok)
	statB, err := hb.Stat()
	require.Zero(t, err)

	var sa, sb abi.Stat
	copy(sa.Bytes(), statA)
	copy(sb.Bytes(), statB)
	require.Equal(t, sa.Ino(), sb.Ino(), "both names must report the same inode id")
	require.EqualValues(t, 2, sa.Nlink())

	require.True(t, root.Unlink(ustr.Ustr("a")))
	_, err = hb.Stat()
	require.Zero(t, err)
	statB2, _ := hb.Stat()
	var sb2 abi.Stat
	copy(sb2.Bytes(), statB2)
	require.EqualValues(t, 1, sb2.Nlink())

	content := hb.ReadAll()
	require.Equal(t, "data", string(content))

	require.True(t, root.Unlink(ustr.Ustr("b")))
	_, ok = root.Find(ustr.Ustr("b"))
	require.False(t, ok)
}

func TestUnlinkMissingReturnsFalse(t *testing.T) {
	root := NewRoot()
	require.False(t, root.Unlink(ustr.Ustr("nope")))
}

func TestDistinctFilesGetDistinctInodeIDs(t *testing.T) {
	root := NewRoot()
	ha, _ := root.Open(ustr.Ustr("a"), CREATE)
	hb, _ := root.Open(ustr.Ustr("b"), CREATE)

	sa, _ := ha.Stat()
	sb, _ := hb.Stat()
	var a, b abi.Stat
	copy(a.Bytes(), sa)
	copy(b.Bytes(), sb)
	require.NotEqual(t, a.Ino(), b.Ino())
}
