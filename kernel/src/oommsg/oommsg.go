package oommsg

/// OomCh is notified when the system runs out of memory. Buffered so a
/// single notice survives even when cmd/kernelctl's draining goroutine
/// hasn't been scheduled yet; the allocator never blocks on it either
/// way.
var OomCh chan Oommsg_t = make(chan Oommsg_t, 4)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
