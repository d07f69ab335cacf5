// Package diag provides call-site diagnostics: a distinct-caller
// filter used to log a warning only the first time a given ancestor
// chain hits some rare path, and a stack dump helper, both routed
// through zerolog instead of fmt/stdout the way the teacher's
// caller.go prints straight to the console.
package diag

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

/// Dump logs the call stack starting at the given depth, the zerolog
/// equivalent of Callerdump.
func Dump(start int) {
	i := start
	ev := log.Warn()
	frame := 0
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		ev = ev.Str(frameKey(frame), f+":"+strconv.Itoa(l))
		i++
		frame++
	}
	ev.Msg("call stack dump")
}

func frameKey(i int) string {
	return "frame" + strconv.Itoa(i)
}

/// DistinctCaller reports, per unique ancestor call chain, whether this
/// is the first time that chain has been seen; callers use it to log a
/// warning once per code path instead of once per call.
type DistinctCaller struct {
	sync.Mutex
	Enabled bool
	Whitel  map[string]bool

	did map[uintptr]bool
}

func pchash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

/// Len returns the number of unique caller paths recorded so far.
func (dc *DistinctCaller) Len() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.did)
}

/// Seen reports whether the current call chain is new, logging a
/// warning with the formatted frames the first time it appears.
func (dc *DistinctCaller) Seen() bool {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false
	}
	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}
	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			return false
		}
		pcs = pcs[:got]
	}
	h := pchash(pcs)
	if dc.did[h] {
		return false
	}
	dc.did[h] = true
	frames := runtime.CallersFrames(pcs)
	ev := log.Warn()
	i := 0
	for {
		fr, more := frames.Next()
		if dc.Whitel[fr.Function] {
			return false
		}
		ev = ev.Str(frameKey(i), fr.Function+" ("+fr.File+":"+strconv.Itoa(fr.Line)+")")
		i++
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	ev.Msg("new call path observed")
	return true
}
