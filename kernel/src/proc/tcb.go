// Package proc implements the task control block: a process's
// scheduling state, address space, open files, and accounting,
// guarded the way the teacher guards Vm_t and Accnt_t — one mutex per
// structure, with explicit Lock/Unlock around every mutation rather
// than field-level locking.
package proc

import (
	"sync"
	"unsafe"

	"accnt"
	"defs"
	"fd"
	"fs"
	"limits"
	"mem"
	"vm"
)

/// TaskStatus is a task's position in its lifecycle. Zombie is distinct
/// from Exited: a zombie still has an entry in its parent's children
/// list (its exit code has not been reaped yet); Exited is reserved for
/// bookkeeping after a parent has collected it.
type TaskStatus int

const (
	UnInit TaskStatus = iota
	Ready
	Running
	Zombie
	Exited
)

func (s TaskStatus) String() string {
	switch s {
	case UnInit:
		return "uninit"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

/// TaskContext holds the callee-saved registers a real context switch
/// would restore (ra/sp plus s0-s11). Trap vector assembly and the
/// actual switch routine are out of scope for this module; the struct
/// is kept so a caller wiring in a real switch has somewhere to put the
/// saved state.
type TaskContext struct {
	Ra uint64
	Sp uint64
	S  [12]uint64
}

/// BIG_STRIDE is the fixed-point stride budget every task's pass is
/// measured against; chosen, as in the distilled source, to be much
/// larger than any plausible priority so stride arithmetic does not
/// wrap.
const BIG_STRIDE = 1 << 20

/// DefaultPriority is assigned to a freshly created task.
const DefaultPriority = 16

/// MaxSyscallKinds bounds the fixed-size syscall-count table exposed
/// through sys_task_info.
const MaxSyscallKinds = 64

/// TCB is one task's control block. Exported fields that are only ever
/// touched under Inner's lock live inside Inner, mirroring the
/// teacher's convention of grouping concurrently-mutated state behind
/// one exclusive-access cell per structure.
type TCB struct {
	Pid        Pid_t
	KernelStack []uint8

	Accnt accnt.Accnt_t

	sync.Mutex
	Inner TCBInner
}

/// TCBInner is the mutable half of a TCB, always accessed with the
/// owning TCB's mutex held.
type TCBInner struct {
	Status TaskStatus
	Cx     TaskContext

	MemSet *vm.MemorySet
	TrapCx mem.VirtAddr

	Parent   *TCB
	Children []*TCB
	ExitCode int

	Fds *fd.Table_t

	Priority int
	Pass     int64
	Stride   int64

	Brk          uint64
	SyscallTimes [MaxSyscallKinds]uint32
	StartTimeUs  int64
	SchedTimeUs  int64
}

/// TrapContext is the saved user-mode register file kept on the
/// trap-context page below the kernel's own view of this address space.
/// Only the fields that matter to fork/exec semantics are modeled here
/// (general registers, the program counter, and the two fields a real
/// trap-return routine would need to get back into the kernel) — the
/// trap vector itself is out of scope per spec §1.
type TrapContext struct {
	X          [32]uint64 // x[2] is sp, x[10] is a0 (the syscall return slot)
	Sepc       uint64
	KernelSatp uint64
	KernelSp   uint64
}

const (
	regSP = 2
	regA0 = 10
)

/// Bytes exposes the raw encoding of the context, mirroring abi's
/// Bytes() escape hatch for structs copied across the kernel boundary.
func (tc *TrapContext) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*tc)
	sl := (*[sz]uint8)(unsafe.Pointer(tc))
	return sl[:]
}

/// writeInitialTrapContext installs a fresh TrapContext at t's
/// trap-context VA with the user stack pointer and ELF entry point set,
/// so a (not-implemented-here) trap return can start the task.
func writeInitialTrapContext(t *TCB, sp mem.VirtAddr, entry mem.VirtAddr) defs.Err_t {
	tc := TrapContext{Sepc: uint64(entry)}
	tc.X[regSP] = uint64(sp)
	return vm.WriteVA(t.Inner.MemSet.Token(), t.Inner.TrapCx, tc.Bytes())
}

/// zeroChildA0 clears the saved a0 register on the child's trap-context
/// page, so that when the scheduler resumes the child it returns 0 from
/// the syscall that created it, while the parent still returns the
/// child's pid from its own call frame.
func zeroChildA0(t *TCB) defs.Err_t {
	var zero [8]uint8
	return vm.WriteVA(t.Inner.MemSet.Token(), t.Inner.TrapCx+mem.VirtAddr(regA0*8), zero[:])
}

/// New builds a fresh, Ready task running the given ELF image with no
/// parent. It is the root-task constructor (spec's "first task").
func New(elfImage []uint8) (*TCB, defs.Err_t) {
	if !limits.Syslimit.Sysprocs_take() {
		return nil, -defs.ENOSPC
	}
	ms, sp, trapCx, entry, err := vm.FromELF(elfImage)
	if err != 0 {
		limits.Syslimit.Sysprocs_give()
		return nil, err
	}
	t := &TCB{
		Pid:         AllocPid(),
		KernelStack: make([]uint8, 16*1024),
	}
	t.Inner.Status = Ready
	t.Inner.MemSet = ms
	t.Inner.TrapCx = trapCx
	t.Inner.Fds = fd.MkTable(limits.DefaultFdLimit)
	t.Inner.Fds.Alloc(fd.MkFd(fs.Stdin{}, true, false))
	t.Inner.Fds.Alloc(fd.MkFd(fs.Stdout{}, false, true))
	t.Inner.Fds.Alloc(fd.MkFd(fs.Stdout{}, false, true))
	t.Inner.Priority = DefaultPriority
	t.Inner.Pass = 0
	t.Inner.Stride = 0
	t.Inner.Cx.Sp = uint64(sp)
	t.Inner.Cx.Ra = uint64(entry)
	if err := writeInitialTrapContext(t, sp, entry); err != 0 {
		ms.Free()
		limits.Syslimit.Sysprocs_give()
		return nil, err
	}
	Register(t)
	return t, 0
}

/// Fork clones t into a new child TCB: a page-for-page copy of the
/// address space (no copy-on-write; an explicit non-goal) and a new fd
/// table that shares the parent's open descriptors.
func (t *TCB) Fork() (*TCB, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if !limits.Syslimit.Sysprocs_take() {
		return nil, -defs.ENOSPC
	}
	ms, err := vm.FromExistedUser(t.Inner.MemSet)
	if err != 0 {
		limits.Syslimit.Sysprocs_give()
		return nil, err
	}
	child := &TCB{
		Pid:         AllocPid(),
		KernelStack: make([]uint8, 16*1024),
	}
	child.Inner.Status = Ready
	child.Inner.MemSet = ms
	child.Inner.TrapCx = t.Inner.TrapCx
	child.Inner.Fds = t.Inner.Fds.Clone(limits.DefaultFdLimit)
	child.Inner.Priority = t.Inner.Priority
	child.Inner.Cx = t.Inner.Cx
	child.Inner.Brk = t.Inner.Brk
	if err := zeroChildA0(child); err != 0 {
		ms.Free()
		limits.Syslimit.Sysprocs_give()
		return nil, err
	}
	child.Parent_store(t)
	t.Inner.Children = append(t.Inner.Children, child)
	Register(child)
	return child, 0
}

/// Parent_store sets t's parent to p without requiring the caller to reach
/// into Inner directly; Fork uses it before the child is published.
func (t *TCB) Parent_store(p *TCB) {
	t.Lock()
	t.Inner.Parent = p
	t.Unlock()
}

/// Exec replaces t's address space with a freshly loaded ELF image,
/// discarding the old one. The file descriptor table and pid survive.
func (t *TCB) Exec(elfImage []uint8) defs.Err_t {
	ms, sp, trapCx, entry, err := vm.FromELF(elfImage)
	if err != 0 {
		return err
	}
	t.Lock()
	defer t.Unlock()
	t.Inner.MemSet.Free()
	t.Inner.MemSet = ms
	t.Inner.TrapCx = trapCx
	t.Inner.Cx.Sp = uint64(sp)
	t.Inner.Cx.Ra = uint64(entry)
	t.Inner.Brk = 0
	if err := writeInitialTrapContext(t, sp, entry); err != 0 {
		return err
	}
	return 0
}

/// MarkZombie transitions t to Zombie with the given exit code. Callers
/// reparent t's children to the root task and wake any waiter
/// separately; MarkZombie only updates t's own state.
func (t *TCB) MarkZombie(exitCode int) {
	t.Lock()
	defer t.Unlock()
	t.Inner.Status = Zombie
	t.Inner.ExitCode = exitCode
}

/// Reap finalizes a zombie after its parent has collected its exit
/// code: frees its address space and releases its process slot.
func (t *TCB) Reap() {
	t.Lock()
	ms := t.Inner.MemSet
	t.Inner.Status = Exited
	t.Unlock()
	ms.Free()
	limits.Syslimit.Sysprocs_give()
	Unregister(t.Pid)
	FreePid(t.Pid)
}

/// MarkRunning transitions t to Running and, the first time it is ever
/// scheduled, records nowUs as its start time — the baseline
/// sys_task_info's elapsed-ms field is measured from.
func (t *TCB) MarkRunning(nowUs int64) {
	t.Lock()
	defer t.Unlock()
	if t.Inner.StartTimeUs == 0 {
		t.Inner.StartTimeUs = nowUs
	}
	t.Inner.Status = Running
}

/// ChargeRuntime adds elapsedNs nanoseconds to t's user-time accounting
/// and its scheduler-visible time-on-CPU counter. Called by the
/// scheduler when t is swapped off the CPU, mirroring the teacher's
/// Accnt_t.Utadd call sites around a context switch.
func (t *TCB) ChargeRuntime(elapsedNs int64) {
	if elapsedNs <= 0 {
		return
	}
	t.Accnt.Utadd(int(elapsedNs))
	t.Lock()
	t.Inner.SchedTimeUs += elapsedNs / 1000
	t.Unlock()
}

/// ChangeBrk adjusts the task's program break by delta bytes and
/// reports the break's value before the change, or false if the
/// adjustment would shrink below zero.
func (t *TCB) ChangeBrk(delta int64) (uint64, bool) {
	t.Lock()
	defer t.Unlock()
	old := t.Inner.Brk
	next := int64(old) + delta
	if next < 0 {
		return 0, false
	}
	t.Inner.Brk = uint64(next)
	return old, true
}

/// RecordSyscall bumps the per-task syscall counter for syscall number
/// num, clamped into the fixed-size table the same way the distilled
/// source bounds its BTreeMap key space via MAX_SYSCALL_NUM.
func (t *TCB) RecordSyscall(num int) {
	t.Lock()
	defer t.Unlock()
	if num >= 0 && num < MaxSyscallKinds {
		t.Inner.SyscallTimes[num]++
	}
}
