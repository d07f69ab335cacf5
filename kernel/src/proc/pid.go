package proc

import "sync"

/// Pid_t identifies a task across its lifetime.
type Pid_t int

// pidAlloc hands out pids, recycling them on reap the same way
// mem.Physmem_t recycles physical frames: a bump allocator until the
// first free, then a LIFO stack of freed pids kept in a slice. Spec §3
// requires recycling ("pid... recycled on process reap"), so a bare
// monotonic counter is not enough for a long-running kernel.
type pidAlloc struct {
	sync.Mutex
	next Pid_t
	free []Pid_t
}

var pids = &pidAlloc{next: 1}

/// AllocPid returns an unused pid, preferring one freed by a reaped
/// task over minting a new one.
func AllocPid() Pid_t {
	pids.Lock()
	defer pids.Unlock()
	if n := len(pids.free); n > 0 {
		p := pids.free[n-1]
		pids.free = pids.free[:n-1]
		return p
	}
	p := pids.next
	pids.next++
	return p
}

/// FreePid returns p to the pool for reuse by a later task.
func FreePid(p Pid_t) {
	pids.Lock()
	pids.free = append(pids.free, p)
	pids.Unlock()
}
