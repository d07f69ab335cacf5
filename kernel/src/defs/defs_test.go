package defs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrTErrorMessagesAreDistinct(t *testing.T) {
	codes := []Err_t{0, EFAULT, ENOMEM, EINVAL, ENOENT, EBADF, ENAMETOOLONG, EMFILE, EAGAIN, ECHILD, EEXIST, ENOSPC}
	seen := make(map[string]bool)
	for _, c := range codes {
		msg := c.Error()
		require.NotEqual(t, "unknown error", msg, "code %d must have a known message", c)
		require.False(t, seen[msg], "message %q reused across codes", msg)
		seen[msg] = true
	}
}

func TestMkdevUnmkdevRoundTrip(t *testing.T) {
	d := Mkdev(D_CONSOLE, 3)
	maj, min := Unmkdev(d)
	require.Equal(t, D_CONSOLE, maj)
	require.Equal(t, 3, min)
}

func TestMkdevRejectsOversizedMinor(t *testing.T) {
	require.Panics(t, func() { Mkdev(D_CONSOLE, 0x100) })
}
