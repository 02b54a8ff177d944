// Package cpu holds the fixed-size per-hart table
// and the hardware hooks spinlocks need: which hart is running, and
// whether interrupts are enabled on it. Those hooks are supplied by the
// machine-mode/boot collaborator that is out of this kernel's scope;
// this package only defines the contract, mirroring how the teacher
// kernel's vm package takes a late-bound Cpumap hook for APIC ids rather
// than hard-coding hardware access.
package cpu

import "rvkernel/internal/limits"

// Cpu_t is one hardware thread's scheduling state. Proc is an
// unsafe.Pointer-free `any` holding the running *proc.Proc_t (if any) —
// proc cannot be imported here without a cycle, since proc itself embeds
// per-process spinlocks built on this package.
type Cpu_t struct {
	Proc    any  // currently running *proc.Proc_t, or nil
	Noff    int  // push_off nesting depth
	Intena  bool // were interrupts enabled before the outermost push_off
	Started bool // this hart has entered its scheduler loop
}

// Cpus is the fixed-size CPU slot table.
var Cpus [limits.NCPU]Cpu_t

// Hooks bundles the machine-mode collaborator's interrupt primitives.
// Installed once at boot via SetHooks before any spinlock is acquired.
type Hooks struct {
	// IntrOn enables interrupts on the calling hart.
	IntrOn func()
	// IntrOff disables interrupts on the calling hart.
	IntrOff func()
	// IntrGet reports whether interrupts are currently enabled on the
	// calling hart.
	IntrGet func() bool
	// Whoami returns the calling hart's index into Cpus. Must be callable
	// with interrupts disabled or enabled.
	Whoami func() int
}

var hooks Hooks

// SetHooks installs the machine-mode collaborator. Must be called by the
// boot hart before any other hart starts its scheduler loop.
func SetHooks(h Hooks) { hooks = h }

// IntrOn enables interrupts on the calling hart.
func IntrOn() { hooks.IntrOn() }

// IntrOff disables interrupts on the calling hart.
func IntrOff() { hooks.IntrOff() }

// IntrGet reports whether interrupts are enabled on the calling hart.
func IntrGet() bool { return hooks.IntrGet() }

// Mycpu returns this hart's CPU slot. Must be called with interrupts
// disabled, per the lock-ordering rules in — otherwise the hart
// could be rescheduled onto a different physical CPU between reading the
// hart id and dereferencing Cpus.
func Mycpu() *Cpu_t {
	if IntrGet() {
		panic("cpu.Mycpu called with interrupts enabled")
	}
	return &Cpus[hooks.Whoami()]
}
