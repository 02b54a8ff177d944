// Package spinlock implements the kernel's short-critical-section lock:
// interrupt-disable nesting plus an atomic flag.
// Holders must never sleep while holding one. Grounded on the locking
// discipline the teacher kernel's Vm_t.Lock_pmap/Unlock_pmap pair
// documents (push/pop interrupt state around a held lock), generalized
// into a standalone reusable type instead of being folded into Vm_t.
package spinlock

import (
	"fmt"
	"sync/atomic"

	"rvkernel/internal/cpu"
)

// Lock_t is a spinlock. The zero value is unlocked.
type Lock_t struct {
	name string
	held atomic.Bool
	cpu  int32 // index into cpu.Cpus of the holder, valid only while held
}

// Mk builds a named spinlock; the name appears in panic messages only.
func Mk(name string) *Lock_t {
	return &Lock_t{name: name, cpu: -1}
}

// Acquire disables interrupts on this hart (nesting composes via
// push_off/pop_off), spins with acquire semantics until the lock is
// free, then records the holding CPU.
func (l *Lock_t) Acquire() {
	pushOff()
	me := int32(myIndex())
	if l.held.Load() && l.cpu == me {
		panic(fmt.Sprintf("spinlock %q: double acquire by same cpu", l.name))
	}
	for !l.held.CompareAndSwap(false, true) {
		// busy-wait; real hardware would pause here
	}
	l.cpu = me
}

// Release publishes pending writes (release semantics on the atomic flag)
// and re-enables interrupts if this was the outermost held spinlock.
func (l *Lock_t) Release() {
	if !l.Holding() {
		panic(fmt.Sprintf("spinlock %q: release by non-holder", l.name))
	}
	l.cpu = -1
	l.held.Store(false)
	popOff()
}

// Holding reports whether the calling hart holds this lock.
func (l *Lock_t) Holding() bool {
	return l.held.Load() && l.cpu == int32(myIndex())
}

func myIndex() int {
	c := cpu.Mycpu()
	for i := range cpu.Cpus {
		if &cpu.Cpus[i] == c {
			return i
		}
	}
	panic("spinlock: current cpu not in cpu.Cpus")
}

// pushOff disables interrupts, tracking nesting depth so that nested
// Acquire calls compose: only the outermost Acquire's prior
// interrupt-enable state is restored, by the matching outermost Release.
func pushOff() {
	old := cpu.IntrGet()
	cpu.IntrOff()
	c := cpu.Mycpu()
	if c.Noff == 0 {
		c.Intena = old
	}
	c.Noff++
}

// popOff reverses one pushOff. Interrupts are re-enabled only when the
// nesting depth returns to zero and they were enabled before the
// outermost pushOff.
func popOff() {
	if cpu.IntrGet() {
		panic("spinlock: popOff with interrupts already enabled")
	}
	c := cpu.Mycpu()
	if c.Noff < 1 {
		panic("spinlock: popOff without matching pushOff")
	}
	c.Noff--
	if c.Noff == 0 && c.Intena {
		cpu.IntrOn()
	}
}
