// Package sleeplock implements the kernel's long-critical-section lock:
// an inner spinlock serializes state changes,
// and a waiter blocks via the scheduler's sleep/wakeup channel mechanism
// rather than spinning, so the lock may be held across disk I/O.
//
// This package only needs the sleep/wakeup primitive, which is owned by
// internal/proc; to avoid a proc -> sleeplock -> proc import cycle (proc
// needs sleeplock for its own per-process structures in a fuller build,
// and sleeplock needs proc's sleep/wakeup), the primitive is injected via
// SetSleeper exactly as cpu.SetHooks injects the interrupt hooks.
package sleeplock

import (
	"fmt"

	"rvkernel/internal/defs"
	"rvkernel/internal/spinlock"
)

// Sleeper is the scheduler contract a sleep lock rides on: Sleep blocks
// the calling process on chan, atomically releasing lk meanwhile; Wakeup
// makes every process sleeping on chan runnable again.
type Sleeper interface {
	Sleep(chan_ any, lk *spinlock.Lock_t)
	Wakeup(chan_ any)
	Mypid() defs.Pid_t
}

var sleeper Sleeper

// SetSleeper installs the scheduler's sleep/wakeup implementation. Called
// once during boot, before any sleep lock is acquired.
func SetSleeper(s Sleeper) { sleeper = s }

// Lock_t is a sleep lock: the holder identity is recorded as a pid for
// assertions; interrupts remain enabled while one is held, and the
// holder is free to block on other things (e.g. another sleep lock, or
// disk I/O) while holding it — only the bare spinlock contract forbids
// that.
type Lock_t struct {
	mu     spinlock.Lock_t
	locked bool
	holder defs.Pid_t
	name   string
}

// Mk builds a named sleep lock; the name appears in panic messages only.
func Mk(name string) *Lock_t {
	return &Lock_t{mu: *spinlock.Mk(name + ".inner"), name: name, holder: -1}
}

// Acquire blocks until the lock is free. If held, the waiter sleeps on
// the lock's own address, releasing the inner spinlock atomically with
// going to sleep (the sleeper's Sleep contract) rather than busy-waiting.
func (l *Lock_t) Acquire() {
	l.mu.Acquire()
	for l.locked {
		sleeper.Sleep(l, &l.mu)
	}
	l.locked = true
	l.holder = sleeper.Mypid()
	l.mu.Release()
}

// Release wakes every waiter sleeping on this lock's address.
func (l *Lock_t) Release() {
	l.mu.Acquire()
	l.locked = false
	l.holder = -1
	l.mu.Release()
	sleeper.Wakeup(l)
}

// Holding reports whether the calling process holds this lock.
func (l *Lock_t) Holding() bool {
	l.mu.Acquire()
	ok := l.locked && l.holder == sleeper.Mypid()
	l.mu.Release()
	return ok
}

// AssertHeld panics if the calling process does not hold the lock —
// used at the top of buffer/inode operations the design requires the sleep
// lock for (§4.4 write/release, §4.6 lock/unlock).
func (l *Lock_t) AssertHeld() {
	if !l.Holding() {
		panic(fmt.Sprintf("sleeplock %q: not held", l.name))
	}
}
