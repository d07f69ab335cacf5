package limits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSysatomicTakenGivenRoundTrip(t *testing.T) {
	s := Sysatomic_t(2)
	require.True(t, s.Taken(1))
	require.True(t, s.Taken(1))
	require.False(t, s.Taken(1), "a third take must fail once the budget is exhausted")

	s.Given(1)
	require.True(t, s.Taken(1), "giving back a unit must make it takeable again")
}

func TestSysprocsTakeGiveTracksLhitsOnExhaustion(t *testing.T) {
	sl := &Syslimit_t{Sysprocs: 1}
	before := Lhits
	require.True(t, sl.Sysprocs_take())
	require.False(t, sl.Sysprocs_take(), "the cap was already exhausted by the first take")
	require.Equal(t, before+1, Lhits)

	sl.Sysprocs_give()
	require.True(t, sl.Sysprocs_take(), "giving back the slot must make it takeable again")
}
