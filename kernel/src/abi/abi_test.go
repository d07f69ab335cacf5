package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeValRoundTripsThroughBytes(t *testing.T) {
	tv := MkTimeVal(1_234_567)
	require.EqualValues(t, 1, tv.Sec())
	require.EqualValues(t, 234_567, tv.Usec())

	raw := make([]byte, len(tv.Bytes()))
	copy(raw, tv.Bytes())

	var got TimeVal
	copy(got.Bytes(), raw)
	require.Equal(t, tv.Sec(), got.Sec())
	require.Equal(t, tv.Usec(), got.Usec())
}

func TestTaskInfoRoundTripsThroughBytes(t *testing.T) {
	var times [64]uint32
	times[3] = 9
	info := MkTaskInfo(2, times, 42)

	var got TaskInfo
	copy(got.Bytes(), info.Bytes())
	require.Equal(t, uint32(2), got.Status())
	require.Equal(t, uint64(42), got.ElapsedMs())
	require.Equal(t, uint32(9), got.SyscallTimes()[3])
}

func TestStatSettersRoundTripThroughBytes(t *testing.T) {
	var st Stat
	st.Wdev(7)
	st.Wino(100)
	st.Wmode(0o644)
	st.Wnlink(2)
	st.Wsize(4096)

	raw := make([]byte, len(st.Bytes()))
	copy(raw, st.Bytes())

	var got Stat
	copy(got.Bytes(), raw)
	require.EqualValues(t, 100, got.Ino())
	require.EqualValues(t, 2, got.Nlink())
	require.EqualValues(t, 4096, got.Size())
}
