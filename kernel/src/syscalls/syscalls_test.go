package syscalls

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"abi"
	"fs"
	"mem"
	"proc"
	"sched"
	"vm"
)

func buildTestELF(t *testing.T, vaddr uint64, code []uint8) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	eh := elf.Header64{
		Ident:     [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   1,
		Entry:     vaddr,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &eh))
	ph := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    ehsize + phsize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  uint64(mem.PGSIZE),
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &ph))
	buf.Write(code)
	return buf.Bytes()
}

func newSys(t *testing.T) (*Sys, *proc.TCB) {
	t.Helper()
	mem.Phys_init(2048)
	mgr := sched.New()
	tcb, err := proc.New(buildTestELF(t, 0x1000, []byte{1, 2, 3, 4}))
	require.Zero(t, err)
	mgr.SetCurrent(tcb)
	return &Sys{Mgr: mgr}, tcb
}

// TestForkWaitpidScenario exercises S1 (minus the exec/print part, which
// belongs to a real trap-return loop this module does not implement):
// fork produces a distinct pid, and waitpid reaps it once it is a zombie.
func TestForkWaitpidScenario(t *testing.T) {
	s, parent := newSys(t)

	childPid, err := s.Fork()
	require.Zero(t, err)
	require.NotEqual(t, int(parent.Pid), childPid)

	child := proc.Lookup(proc.Pid_t(childPid))
	require.NotNil(t, child)

	_, _, status := s.Waitpid(childPid)
	require.Equal(t, WaitNotZombie, status, "child hasn't exited yet")

	child.MarkZombie(7)
	gotPid, exitCode, status := s.Waitpid(childPid)
	require.Equal(t, WaitOK, status)
	require.Equal(t, childPid, gotPid)
	require.Equal(t, 7, exitCode)

	require.Nil(t, proc.Lookup(proc.Pid_t(childPid)), "a reaped child's pid must be unregistered")
	require.Empty(t, parent.Inner.Children)
}

func TestWaitpidNoMatchingChild(t *testing.T) {
	s, _ := newSys(t)
	pid, _, status := s.Waitpid(999)
	require.Equal(t, WaitNoChild, status)
	require.Equal(t, -1, pid)
}

// TestMmapMunmapScenario covers S2: a successful mmap leaves the region
// mapped, and munmap removes it so no page of it is mapped afterwards.
func TestMmapMunmapScenario(t *testing.T) {
	s, t0 := newSys(t)
	const base = uint64(0x10000000)

	require.Zero(t, s.Mmap(base, 8192, 0x3))

	t0.Lock()
	mapped := t0.Inner.MemSet.RangeMapped(mem.VirtAddr(base), mem.VirtAddr(base+8192), true)
	t0.Unlock()
	require.True(t, mapped)

	require.Zero(t, s.Munmap(base, 8192))

	t0.Lock()
	stillMapped := t0.Inner.MemSet.RangeMapped(mem.VirtAddr(base), mem.VirtAddr(base+8192), true)
	t0.Unlock()
	require.False(t, stillMapped, "a page the second store would fault on")
}

// TestMmapOverlapScenario covers S3.
func TestMmapOverlapScenario(t *testing.T) {
	s, _ := newSys(t)
	require.Zero(t, s.Mmap(0x10000000, 4096, 0x3))
	require.Equal(t, -1, s.Mmap(0x10000000, 4096, 0x3))
}

// TestMmapBadArgsScenario covers S4.
func TestMmapBadArgsScenario(t *testing.T) {
	s, _ := newSys(t)
	require.Equal(t, -1, s.Mmap(0x10000001, 4096, 0x3), "unaligned start")
	require.Equal(t, -1, s.Mmap(0x10000000, 4096, 0x0), "no permission bits")
	require.Equal(t, -1, s.Mmap(0x10000000, 4096, 0x8), "unknown permission bit")
}

// TestLinkatFstatUnlinkatScenario covers S5 through the syscall layer
// rather than fs directly, exercising the user-memory bridge for path
// arguments.
func TestLinkatFstatUnlinkatScenario(t *testing.T) {
	s, t0 := newSys(t)
	root := fs.NewRoot()

	// Addresses here sit well above the task's guard page, stack, and
	// trap-context areas (which top out under 0x10000 for this tiny
	// image), so path buffers never collide with them.
	writePathAt(t, t0, 0x00200000, "a")
	fdA := s.Open(root, 0x00200000, fs.CREATE|fs.RDWR)
	require.GreaterOrEqual(t, fdA, 0)

	writePathAt(t, t0, 0x00200100, "a")
	writePathAt(t, t0, 0x00200200, "b")
	require.Zero(t, s.Linkat(root, 0x00200100, 0x00200200))

	writePathAt(t, t0, 0x00200300, "b")
	fdB := s.Open(root, 0x00200300, fs.RDONLY)
	require.GreaterOrEqual(t, fdB, 0)

	statA := readStatVia(t, s, t0, fdA, 0x00201000)
	statB := readStatVia(t, s, t0, fdB, 0x00201100)
	require.Equal(t, statA.Ino(), statB.Ino())
	require.EqualValues(t, 2, statA.Nlink())

	writePathAt(t, t0, 0x00200400, "a")
	require.Zero(t, s.Unlinkat(root, 0x00200400))

	statB2 := readStatVia(t, s, t0, fdB, 0x00201200)
	require.EqualValues(t, 1, statB2.Nlink())

	writePathAt(t, t0, 0x00200500, "b")
	require.Zero(t, s.Unlinkat(root, 0x00200500))
}

func writePathAt(t *testing.T, tcb *proc.TCB, va uint64, path string) {
	t.Helper()
	tcb.Lock()
	token := tcb.Inner.MemSet.Token()
	ms := tcb.Inner.MemSet
	tcb.Unlock()
	// Make sure the target page is backed before writing through it.
	if !ms.RangeMapped(mem.VirtAddr(va), mem.VirtAddr(va+uint64(len(path))+1), true) {
		require.Zero(t, ms.InsertFramedArea(mem.VirtAddr(va&^uint64(mem.PGSIZE-1)), mem.VirtAddr(va&^uint64(mem.PGSIZE-1))+uint64(mem.PGSIZE), 0x3))
	}
	encoded := append([]byte(path), 0)
	require.Zero(t, vm.WriteVA(token, mem.VirtAddr(va), encoded))
}

func readStatVia(t *testing.T, s *Sys, tcb *proc.TCB, fdnum int, va uint64) abi.Stat {
	t.Helper()
	tcb.Lock()
	ms := tcb.Inner.MemSet
	tcb.Unlock()
	if !ms.RangeMapped(mem.VirtAddr(va), mem.VirtAddr(va)+64, true) {
		require.Zero(t, ms.InsertFramedArea(mem.VirtAddr(va&^uint64(mem.PGSIZE-1)), mem.VirtAddr(va&^uint64(mem.PGSIZE-1))+uint64(mem.PGSIZE), 0x3))
	}
	require.Zero(t, s.Fstat(fdnum, mem.VirtAddr(va)))
	var st abi.Stat
	tcb.Lock()
	token := tcb.Inner.MemSet.Token()
	tcb.Unlock()
	raw := make([]byte, len(st.Bytes()))
	require.Zero(t, vm.ReadVA(token, mem.VirtAddr(va), raw))
	copy(st.Bytes(), raw)
	return st
}

func TestSbrkReturnsPriorBreakAndRejectsUnderflow(t *testing.T) {
	s, _ := newSys(t)
	old := s.Sbrk(100)
	require.Zero(t, old)
	old = s.Sbrk(50)
	require.Equal(t, 100, old)
	require.Equal(t, -1, s.Sbrk(-1000))
}

func TestSetPriorityUpdatesScheduler(t *testing.T) {
	s, t0 := newSys(t)
	require.Equal(t, -1, s.SetPriority(1), "priority must be at least 2")
	require.Equal(t, 7, s.SetPriority(7))
	t0.Lock()
	prio := t0.Inner.Priority
	t0.Unlock()
	require.Equal(t, 7, prio)
}
