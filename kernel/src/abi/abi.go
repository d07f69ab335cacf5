// Package abi defines the wire-format structs copied across the
// user/kernel boundary: TimeVal, TaskInfo, and Stat. Each follows the
// teacher's Stat_t convention of private fields reached only through
// named setters/getters plus a Bytes() escape hatch for the raw
// encoding a syscall copies into user memory.
package abi

import "unsafe"

/// TimeVal mirrors the seconds/microseconds pair sys_get_time hands
/// back to userspace.
type TimeVal struct {
	sec  uint64
	usec uint64
}

/// MkTimeVal builds a TimeVal from a microsecond timestamp.
func MkTimeVal(us int64) TimeVal {
	return TimeVal{sec: uint64(us / 1_000_000), usec: uint64(us % 1_000_000)}
}

/// Sec returns the seconds component.
func (t TimeVal) Sec() uint64 { return t.sec }

/// Usec returns the microseconds component.
func (t TimeVal) Usec() uint64 { return t.usec }

/// Bytes exposes the raw encoding of the struct.
func (t *TimeVal) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*t)
	sl := (*[sz]uint8)(unsafe.Pointer(t))
	return sl[:]
}

/// TaskInfo mirrors the status/syscall-count/elapsed-time snapshot
/// sys_task_info hands back to userspace.
type TaskInfo struct {
	status       uint32
	syscallTimes [64]uint32
	timeMs       uint64
}

/// MkTaskInfo builds a TaskInfo snapshot.
func MkTaskInfo(status int, syscallTimes [64]uint32, elapsedMs uint64) TaskInfo {
	return TaskInfo{status: uint32(status), syscallTimes: syscallTimes, timeMs: elapsedMs}
}

/// Status returns the encoded task status.
func (t TaskInfo) Status() uint32 { return t.status }

/// SyscallTimes returns the per-syscall invocation counts.
func (t TaskInfo) SyscallTimes() [64]uint32 { return t.syscallTimes }

/// ElapsedMs returns milliseconds since the task was first scheduled.
func (t TaskInfo) ElapsedMs() uint64 { return t.timeMs }

/// Bytes exposes the raw encoding of the struct.
func (t *TaskInfo) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*t)
	sl := (*[sz]uint8)(unsafe.Pointer(t))
	return sl[:]
}

/// Stat mirrors a file's metadata, trimmed to what an in-memory
/// filesystem can meaningfully report (no block device fields).
type Stat struct {
	_dev   uint64
	_ino   uint64
	_mode  uint32
	_nlink uint32
	_size  uint64
}

/// Wdev stores the device ID.
func (st *Stat) Wdev(v uint64) { st._dev = v }

/// Wino stores the inode number.
func (st *Stat) Wino(v uint64) { st._ino = v }

/// Wmode records the file mode.
func (st *Stat) Wmode(v uint32) { st._mode = v }

/// Wnlink records the hard-link count.
func (st *Stat) Wnlink(v uint32) { st._nlink = v }

/// Wsize records the file size.
func (st *Stat) Wsize(v uint64) { st._size = v }

/// Ino returns the stored inode number.
func (st *Stat) Ino() uint64 { return st._ino }

/// Nlink returns the stored hard-link count.
func (st *Stat) Nlink() uint32 { return st._nlink }

/// Size returns the stored size.
func (st *Stat) Size() uint64 { return st._size }

/// Bytes exposes the raw encoding of the struct.
func (st *Stat) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
