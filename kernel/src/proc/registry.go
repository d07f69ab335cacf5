package proc

import "hashtable"

// registryBuckets sizes the global pid table; at limits.Syslimit's
// default process ceiling each bucket chains about 40 entries.
const registryBuckets = 256

// registry maps a running pid to its TCB, letting kill/waitpid-style
// lookups by pid find a task without the caller threading a *TCB
// through every call site. Keyed as int since hashtable's type switch
// does not know about Pid_t.
var registry = hashtable.MkHash(registryBuckets)

/// Register publishes t under its pid so Lookup can find it. Called
/// once a new or forked task is fully initialized.
func Register(t *TCB) {
	registry.Set(int(t.Pid), t)
}

/// Lookup returns the task running as pid, or nil if none is
/// registered (already reaped, or never existed).
func Lookup(pid Pid_t) *TCB {
	v, ok := registry.Get(int(pid))
	if !ok {
		return nil
	}
	return v.(*TCB)
}

/// Unregister removes pid's entry, called when a task is reaped and
/// its pid is returned to the free list.
func Unregister(pid Pid_t) {
	registry.Del(int(pid))
}
