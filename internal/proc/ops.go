package proc

import (
	"time"

	"rvkernel/internal/defs"
	"rvkernel/internal/file"
	"rvkernel/internal/fs"
	"rvkernel/internal/mem"
	"rvkernel/internal/vm"
)

// Fsys exposes the table's mounted filesystem to the syscall layer.
func (t *Table) Fsys() *fs.FS { return t.fsys }

// Files exposes the table's system-wide open-file table to the syscall
// layer.
func (t *Table) Files() *file.Table { return t.files }

// PhysAlloc exposes the table's physical frame allocator to the
// syscall layer's exec handler, which needs it to build a fresh Space.
func (t *Table) PhysAlloc() *mem.Allocator { return t.physAlloc }

// SleepTicks blocks the calling process for approximately the given
// number of uptime ticks. Grounded on xv6's sys_sleep, which loops
// calling sleep(&ticks) until the tick counter advances far enough;
// this kernel has no timer interrupt to drive that loop against, so it
// waits out the same wall-clock interval Uptime derives ticks from
// directly, checking Killed between short slices so a kill() still
// interrupts it promptly.
func (t *Table) SleepTicks(p *Proc, ticks uint64) {
	target := t.Uptime() + ticks
	const slice = 10 * time.Millisecond
	for t.Uptime() < target && !p.Killed {
		time.Sleep(slice)
	}
}

// Body is a process's kernel-mode entry point: the code that runs once
// the scheduler first hands it the CPU. A real kernel resumes into
// user mode via the trap return path (internal/trap); this simulation
// runs body directly, with the process's *Proc available for syscalls
// to mutate.
type Body func(p *Proc)

// Spawn creates the first process in the system,
// with an empty address space and the root directory as its cwd.
// Panics if the table is full, since a fresh boot with no processes
// running out of table slots is a configuration error.
func (t *Table) Spawn(body Body) *Proc {
	p := t.alloc()
	if p == nil {
		panic("proc: table exhausted during Spawn")
	}
	sp, err := vm.NewSpace(t.physAlloc)
	if err != 0 {
		panic("proc: out of memory during Spawn")
	}
	p.Space = sp
	p.Cwd = t.fsys.Root()
	t.start(p, body)
	return p
}

func (t *Table) start(p *Proc, body Body) {
	t.lock.Acquire()
	p.State = Runnable
	t.lock.Release()
	go func() {
		t.wait(p)
		body(p)
	}()
	t.wake()
}

// Fork duplicates the calling process p: a new address space with
// identical content (vm.Space.Copy), shared open-file-table entries
// (file.Dup bumps refcounts rather than copying), and the same cwd
// (fs.FS.Dup). The child starts at childBody once scheduled. Returns
// the child's pid, or -ENOMEM if the table or a page allocation is
// exhausted.
func (t *Table) Fork(p *Proc, childBody Body) (defs.Pid_t, defs.Err_t) {
	child := t.alloc()
	if child == nil {
		return 0, -defs.ENOMEM
	}
	childSpace, err := vm.NewSpace(t.physAlloc)
	if err != 0 {
		t.free(child)
		return 0, err
	}
	if err := p.Space.Copy(childSpace); err != 0 {
		t.free(child)
		return 0, err
	}
	child.Space = childSpace
	child.Parent = p
	for i, f := range p.Files {
		if f != nil {
			child.Files[i] = file.Dup(f)
		}
	}
	child.Cwd = t.fsys.Dup(p.Cwd)

	t.start(child, childBody)
	return child.Pid, 0
}

func (t *Table) free(p *Proc) {
	t.lock.Acquire()
	defer t.lock.Release()
	for i, pp := range t.procs {
		if pp == p {
			t.procs[i] = nil
			return
		}
	}
}

// Exit tears down p: releases its open files, its cwd, and its address
// space, reparents its children to the init process (pid 1), records
// status, marks Zombie, wakes the parent's Wait, and finally hands the
// CPU back to the scheduler forever.
func (t *Table) Exit(p *Proc, status int) {
	for i, f := range p.Files {
		if f != nil {
			file.Close(t.fsys, f)
			p.Files[i] = nil
		}
	}
	t.fsys.Begin()
	t.fsys.Put(p.Cwd)
	t.fsys.End()
	p.Cwd = nil
	p.Space.Free()

	t.lock.Acquire()
	for _, pp := range t.procs {
		if pp != nil && pp.Parent == p {
			pp.Parent = t.initProc()
		}
	}
	p.exitStatus = status
	p.State = Zombie
	t.lock.Release()

	close(p.waitCh)
	if parent := p.Parent; parent != nil {
		t.Wakeup(parent)
	}

	t.yield()
	<-p.resume // an exited process is never rescheduled
}

// initProc returns the lowest-pid live process, standing in for pid 1
// as the reparenting target.
func (t *Table) initProc() *Proc {
	var found *Proc
	for _, p := range t.procs {
		if p != nil && p.State != Unused && p.State != Zombie {
			if found == nil || p.Pid < found.Pid {
				found = p
			}
		}
	}
	return found
}

// Wait blocks p until some child exits, reaps the first zombie child it
// finds, and returns its pid and exit status. Returns -ECHILD
// immediately if p has no children at all.
func (t *Table) Wait(p *Proc) (defs.Pid_t, int, defs.Err_t) {
	for {
		t.lock.Acquire()
		anyChildren := false
		var zombie *Proc
		for _, c := range t.procs {
			if c != nil && c.Parent == p {
				anyChildren = true
				if c.State == Zombie {
					zombie = c
					break
				}
			}
		}

		if !anyChildren {
			t.lock.Release()
			return 0, 0, -defs.ECHILD
		}
		if zombie != nil {
			t.lock.Release()
			pid, status := zombie.Pid, zombie.exitStatus
			t.free(zombie)
			return pid, status, 0
		}
		// Sleep releases t.lock, parks until a child's Exit wakes p,
		// then reacquires t.lock before returning.
		t.Sleep(p, &t.lock)
		killed := p.Killed
		t.lock.Release()
		if killed {
			return 0, 0, -defs.EINTR
		}
	}
}

// Kill marks the process with the given pid for termination: it will
// exit the next time it next checks p.Killed (at a syscall return or
// sleep wakeup — cooperative, since this
// kernel has no asynchronous preemption of kernel-mode code). Also
// wakes it if sleeping, since a sleeping process must notice Killed
// promptly rather than sleep forever.
func (t *Table) Kill(pid defs.Pid_t) defs.Err_t {
	t.lock.Acquire()
	var target *Proc
	for _, p := range t.procs {
		if p != nil && p.Pid == pid {
			target = p
			break
		}
	}
	if target == nil {
		t.lock.Release()
		return -defs.ESRCH
	}
	target.Killed = true
	chan_ := target.sleepChan
	t.lock.Release()
	if chan_ != nil {
		t.Wakeup(chan_)
	}
	return 0
}
