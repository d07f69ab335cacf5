package fs

import "defs"

// Console driver wiring is explicitly out of scope; these two stubs
// exist only so fd 0/1/2 behave sanely (EOF on read, discard on
// write) in a freshly created task. No device number is attached to
// them.

/// Stdin is an always-empty input source.
type Stdin struct{}

func (Stdin) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (Stdin) Write([]uint8) (int, defs.Err_t)     { return 0, -defs.EBADF }
func (Stdin) Stat() ([]uint8, defs.Err_t)         { return nil, 0 }
func (Stdin) Close() defs.Err_t                   { return 0 }

/// Stdout is a write-only sink that discards its input; cmd/kernelctl
/// installs a logging variant for scenario runs.
type Stdout struct {
	Sink func([]uint8)
}

func (s Stdout) Read([]uint8) (int, defs.Err_t) { return 0, -defs.EBADF }
func (s Stdout) Write(src []uint8) (int, defs.Err_t) {
	if s.Sink != nil {
		s.Sink(src)
	}
	return len(src), 0
}
func (Stdout) Stat() ([]uint8, defs.Err_t) { return nil, 0 }
func (Stdout) Close() defs.Err_t           { return 0 }
