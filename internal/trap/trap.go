// Package trap implements the kernel's trap-dispatch contract:
// usertrap's syscall-versus-exception branch and kerneltrap's
// device-interrupt classification, adapted to a kernel where a
// process's kernel-mode code runs as a Go goroutine rather than under
// a trapframe restored by trampoline.S after a real ecall or PLIC
// interrupt. Callers already hold the decoded equivalent of scause and
// the trapframe's a0..a5 — the register-level encode/decode that a
// genuine uservec/userret pair would perform is a tiny foreign-module
// contract this kernel has no business reimplementing in Go, same as
// internal/proc treats swtch.S.
//
// Grounded on original_source's trap.rs: usertrap's Killed check on
// entry and again after the syscall/exception branch, and kerneltrap's
// devintr classification (external-device, timer, or unrecognized)
// that decides whether the interrupt is handled here or dispatched to
// a collaborator's driver.
package trap

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/proc"
	"rvkernel/internal/syscall"
)

// Hooks is the interrupt-controller contract named in the external
// interfaces this kernel exposes collaborators through: `claim() ->
// irq`, `complete(irq)`, standing in for devintr's plic_claim/
// plic_complete pair and the per-device intr() dispatch between them.
// MMIO, the PLIC, and disk interrupts are out of this kernel's scope;
// this package only ever reaches them through this interface.
type Hooks interface {
	// Claim asks the PLIC which external interrupt is pending and
	// reports false if none was claimed.
	Claim() (irq uint32, ok bool)
	// Complete tells the PLIC irq has been serviced, so it may be
	// claimed again. Called only after the device driver that owns
	// irq has handled it.
	Complete(irq uint32)
}

var hooks Hooks

// SetHooks installs the external-interrupt dispatch implementation.
// Installed once at boot, mirroring the pattern internal/cpu,
// internal/sleeplock, internal/log, and internal/file already use for
// their own scheduler/hardware injection points.
func SetHooks(h Hooks) { hooks = h }

// Cause classifies why UserTrap was invoked, standing in for the
// decoded meaning of scause once a real handler has read it out of the
// trapframe.
type Cause int

const (
	CauseSyscall Cause = iota
	CauseExternalIntr
	CauseTimerIntr
	CauseException
)

// UserTrap is usertrap()'s syscall/exception branch. num and a are
// already-decoded stand-ins for a0's syscall number and a0..a5's
// arguments — this kernel has no trapframe for a real ecall to land
// in, so whatever called UserTrap already did that decoding. Checks
// Killed on entry and again on exit, exactly as usertrap does around
// its call to syscall(), so a process marked for death never runs
// another instruction's worth of kernel code after it notices.
func UserTrap(p *proc.Proc, sys *syscall.Sys, cause Cause, num uint64, a syscall.Args) (uint64, defs.Err_t) {
	if p.Killed {
		return 0, -defs.EINTR
	}

	var ret uint64
	var err defs.Err_t
	switch cause {
	case CauseSyscall:
		ret, err = Dispatch(sys, p, num, a)
	case CauseExternalIntr:
		if hooks == nil {
			err = -defs.EINVAL
			break
		}
		irq, ok := hooks.Claim()
		if !ok {
			err = -defs.EINVAL
			break
		}
		// The device whose irq this is has already been serviced as
		// part of claiming it (the UART/virtio collaborator calls
		// into its own driver, e.g. internal/console's Intr, the
		// same way the original's uartintr/virtio_disk_intr run
		// before devintr ever returns); completing the irq is all
		// that's left on this side of the boundary.
		hooks.Complete(irq)
	case CauseTimerIntr:
		// Tick bookkeeping lives in proc.Table.Uptime, derived from
		// wall-clock time rather than a machine-mode timer interrupt
		// this kernel never receives; nothing left to do here once
		// the cause has been classified as a timer tick.
	default:
		p.Killed = true
		err = -defs.EINVAL
	}

	if p.Killed {
		return 0, -defs.EINTR
	}
	return ret, err
}
