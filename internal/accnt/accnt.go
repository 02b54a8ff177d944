// Package accnt accumulates per-process CPU accounting (user/system time),
// grounded on the teacher's accnt package. No syscall handler exports
// these counters.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates user/system nanoseconds consumed by one process. The
// embedded mutex lets callers take a consistent snapshot when exporting.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add merges another process's accounting into this one. proc.Table.Wait
// does not call it, so a reaped child's usage is not folded into its
// parent.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// Snapshot returns a consistent (user, system) duration pair.
func (a *Accnt_t) Snapshot() (user, sys time.Duration) {
	a.Lock()
	defer a.Unlock()
	return time.Duration(a.Userns), time.Duration(a.Sysns)
}
