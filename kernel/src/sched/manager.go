// Package sched implements the ready queue and stride scheduler that
// decide which task runs next. The ready-queue shape (append on add,
// pop-front on fetch) and the stride rotation algorithm are grounded
// directly on the teaching kernel's task/manager.rs; the mutex-guarded
// wrapper around it follows the teacher's habit of never exposing bare
// shared state (stats.Counter_t, accnt.Accnt_t) without a lock.
package sched

import (
	"sync"

	"proc"
	"stats"
)

/// Policy selects which of FetchFIFO/FetchStride Schedule uses to pick
/// the next task.
type Policy int

const (
	FIFO Policy = iota
	Stride
)

/// Manager holds every task that is ready to run, plus the task
/// currently on CPU.
type Manager struct {
	sync.Mutex
	ready    []*proc.TCB
	current  *proc.TCB
	policy   Policy
	swapInUs int64

	// Selections counts completed Schedule calls, the same togglable
	// instrumentation idiom as the teacher's stats.Counter_t fields
	// (compiled to a no-op unless stats.Stats is true).
	Selections stats.Counter_t
}

/// New returns an empty manager using FIFO selection.
func New() *Manager {
	return &Manager{policy: FIFO}
}

/// NewWithPolicy returns an empty manager using the given selection
/// policy.
func NewWithPolicy(p Policy) *Manager {
	return &Manager{policy: p}
}

/// Add appends t to the back of the ready queue.
func (m *Manager) Add(t *proc.TCB) {
	m.Lock()
	defer m.Unlock()
	m.ready = append(m.ready, t)
}

/// Len reports how many tasks are waiting to run.
func (m *Manager) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.ready)
}

/// FetchFIFO removes and returns the task at the front of the ready
/// queue, or nil if it is empty.
func (m *Manager) FetchFIFO() *proc.TCB {
	m.Lock()
	defer m.Unlock()
	if len(m.ready) == 0 {
		return nil
	}
	t := m.ready[0]
	m.ready = m.ready[1:]
	return t
}

// strideLess reports whether a has priority over b under stride
// scheduling: smaller pass wins, with wraparound handled the way
// BIG_STRIDE comparisons are meant to (signed difference, not a raw
// less-than, so pass can wrap past the int64 range without starving a
// task). Each TCB's own cell guards its Pass, not the manager's lock,
// so it is read under the task's lock rather than the caller's.
func strideLess(a, b *proc.TCB) bool {
	a.Lock()
	pa := a.Inner.Pass
	a.Unlock()
	b.Lock()
	pb := b.Inner.Pass
	b.Unlock()
	return int64(pa-pb) < 0
}

/// FetchStride reproduces find_smallest_stride's rotation exactly: it
/// snapshots the current queue length, then that many times pops the
/// front, compares it against the best candidate seen so far, and
/// pushes the loser back onto the tail. The result is the task with the
/// smallest pass value. The other tasks are re-appended in the order
/// they lose, so a best candidate displaced later in the scan lands
/// behind tasks that came after it; the queue is never resorted. The
/// manager's own lock only ever
/// guards m.ready; every read or write of a candidate's Pass/Stride/
/// Priority goes through that TCB's own lock, same as the syscall
/// layer.
func (m *Manager) FetchStride() *proc.TCB {
	m.Lock()
	defer m.Unlock()
	n := len(m.ready)
	if n == 0 {
		return nil
	}
	best := m.ready[0]
	m.ready = m.ready[1:]
	for i := 1; i < n; i++ {
		cand := m.ready[0]
		m.ready = m.ready[1:]
		if strideLess(cand, best) {
			m.ready = append(m.ready, best)
			best = cand
		} else {
			m.ready = append(m.ready, cand)
		}
	}
	best.Lock()
	best.Inner.Pass += int64(proc.BIG_STRIDE) / int64(best.Inner.Priority)
	best.Inner.Stride = best.Inner.Pass
	best.Unlock()
	return best
}

/// SetCurrent installs t as the task the (single, simulated) hart is
/// running.
func (m *Manager) SetCurrent(t *proc.TCB) {
	m.Lock()
	defer m.Unlock()
	m.current = t
}

/// Current returns the task the hart is currently running, or nil.
func (m *Manager) Current() *proc.TCB {
	m.Lock()
	defer m.Unlock()
	return m.current
}

// fetch pops the next task per the manager's configured policy.
func (m *Manager) fetch() *proc.TCB {
	if m.policy == Stride {
		return m.FetchStride()
	}
	return m.FetchFIFO()
}

/// Schedule charges the outgoing current task for the wall-clock
/// nanoseconds it has now spent on the CPU, pops the next ready task per
/// the manager's policy, marks it Running, and installs it as current.
/// If the ready queue is empty it leaves the current task in place and
/// returns it unchanged (nil if none was ever set).
func (m *Manager) Schedule(nowUs int64) *proc.TCB {
	prev := m.Current()
	next := m.fetch()
	if next == nil {
		return prev
	}
	if prev != nil {
		m.Lock()
		since := m.swapInUs
		m.Unlock()
		prev.ChargeRuntime((nowUs - since) * 1000)
	}
	next.MarkRunning(nowUs)
	m.Lock()
	m.current = next
	m.swapInUs = nowUs
	m.Unlock()
	m.Selections.Inc()
	return next
}
