// Package proc implements the process table, scheduler, and sleep/
// wakeup primitive: process allocation, fork/exit/wait/
// kill, and the channel-based blocking mechanism that the sleep lock,
// the redo log, and pipes all ride on.
//
// The real xv6 context switch (swtch.S) saves and restores callee-saved
// registers across an assembly boundary — a tiny foreign-module
// contract this kernel has no business reimplementing in Go. Instead a
// process's kernel-mode execution is modeled as a goroutine that blocks
// on its own Proc.resume channel until the scheduler hands it control,
// and hands control back over Table.yielded exactly at xv6's yield
// points (voluntary Yield, blocking Sleep, or Exit) — a single
// dedicated scheduler goroutine decides who runs next, round robin over
// the Runnable set, exactly mirroring scheduler loop without
// needing a register-level context switch.
//
// Grounded on the teacher's accnt.Accnt_t (per-process CPU time
// accounting, reused verbatim here) and tinfo.Tnote_t's Alive/Killed
// bookkeeping, adapted from biscuit's runtime-thread-per-Go-goroutine
// model (which relies on a forked Go runtime exposing Gptr/Setgptr) to
// plain goroutines plus explicit channel handoff, since this kernel
// does not carry a modified runtime.
package proc

import (
	"sync"
	"time"

	"rvkernel/internal/accnt"
	"rvkernel/internal/defs"
	"rvkernel/internal/file"
	"rvkernel/internal/fs"
	"rvkernel/internal/limits"
	"rvkernel/internal/mem"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/vm"
)

// State is a process's scheduling state.
type State int

const (
	Unused State = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

// Proc is one process-table entry.
type Proc struct {
	Pid    defs.Pid_t
	Parent *Proc
	State  State
	Space  *vm.Space
	Files  [limits.NOFILE]*file.File
	Cwd    *fs.Inode
	Killed bool
	Accnt  accnt.Accnt_t

	exitStatus int
	sleepChan  any
	waitCh     chan struct{} // closed exactly once, when this proc becomes Zombie
	resume     chan struct{} // scheduler -> proc: "you're Running now"
}

// Table is the fixed-size process table plus the scheduling state
// shared by every process on it.
type Table struct {
	lock    spinlock.Lock_t
	procs   [limits.NPROC]*Proc
	nextp   defs.Pid_t
	lastRun int

	yielded   chan struct{} // proc -> scheduler: "I stopped running"
	files     *file.Table
	fsys      *fs.FS
	physAlloc *mem.Allocator

	idleMu   sync.Mutex
	idleCond *sync.Cond

	bootTime time.Time
}

// NewTable builds an empty process table bound to the given system-wide
// open-file table, mounted filesystem, and physical allocator, and
// starts its scheduler goroutine.
func NewTable(files *file.Table, fsys *fs.FS, alloc *mem.Allocator) *Table {
	t := &Table{nextp: 1, files: files, fsys: fsys, physAlloc: alloc, yielded: make(chan struct{}), bootTime: time.Now()}
	t.idleCond = sync.NewCond(&t.idleMu)
	go t.schedulerLoop()
	return t
}

// wake notifies the scheduler that a process just became Runnable, in
// case it was idle.
func (t *Table) wake() {
	t.idleMu.Lock()
	t.idleCond.Broadcast()
	t.idleMu.Unlock()
}

// schedulerLoop repeatedly hands the (single, simulated) CPU to the
// next Runnable process round robin, then waits for that process to
// give it back. When nothing is runnable it
// parks on idleCond rather than spinning, mirroring the real scheduler
// loop's WFI-equivalent idle wait.
func (t *Table) schedulerLoop() {
	for {
		t.lock.Acquire()
		var next *Proc
		n := len(t.procs)
		for i := 1; i <= n; i++ {
			idx := (t.lastRun + i) % n
			p := t.procs[idx]
			if p != nil && p.State == Runnable {
				next = p
				t.lastRun = idx
				break
			}
		}
		if next != nil {
			next.State = Running
		}
		t.lock.Release()

		if next == nil {
			t.idleMu.Lock()
			t.idleCond.Wait()
			t.idleMu.Unlock()
			continue
		}

		setCurrent(next)
		next.resume <- struct{}{}
		<-t.yielded
	}
}

// alloc reserves a process-table slot in the Embryo state, or returns
// nil if the table is full.
func (t *Table) alloc() *Proc {
	t.lock.Acquire()
	defer t.lock.Release()
	for i, p := range t.procs {
		if p == nil {
			np := &Proc{
				Pid:    t.nextp,
				State:  Embryo,
				waitCh: make(chan struct{}),
				resume: make(chan struct{}),
			}
			t.nextp++
			t.procs[i] = np
			return np
		}
	}
	return nil
}

// wait blocks the calling goroutine (representing p) until the
// scheduler hands it the CPU again.
func (t *Table) wait(p *Proc) { <-p.resume }

// yield hands control back to the scheduler; must only be called by
// the goroutine currently holding the CPU.
func (t *Table) yield() { t.yielded <- struct{}{} }

// Sleep blocks the calling process until Wakeup(chan_) is called,
// atomically releasing lk while parked and reacquiring it before
// returning — the contract internal/sleeplock, internal/log, and
// internal/file's pipes all depend on. Mirrors xv6's own sleep(): when
// lk is t.lock itself (Wait's case — it calls Sleep while already
// holding the table lock), the state transition is already protected
// by the caller's hold, so Sleep must not acquire t.lock a second time
// from the same goroutine; it only releases/reacquires lk once, same
// as xv6's `if(lk != &p->lock)` guard around the redundant pair.
func (t *Table) Sleep(chan_ any, lk *spinlock.Lock_t) {
	p := Current()
	selfLock := lk == &t.lock
	if !selfLock {
		t.lock.Acquire()
	}
	p.sleepChan = chan_
	p.State = Sleeping
	if !selfLock {
		t.lock.Release()
	}
	lk.Release()

	t.yield()
	t.wait(p)

	lk.Acquire()
}

// Wakeup makes every process sleeping on chan_ runnable again.
func (t *Table) Wakeup(chan_ any) {
	woke := false
	t.lock.Acquire()
	for _, p := range t.procs {
		if p != nil && p.State == Sleeping && p.sleepChan == chan_ {
			p.sleepChan = nil
			p.State = Runnable
			woke = true
		}
	}
	t.lock.Release()
	if woke {
		t.wake()
	}
}

// Yield voluntarily gives up the CPU so another runnable process can
// run, then blocks until rescheduled.
func (t *Table) Yield() {
	p := Current()
	t.lock.Acquire()
	p.State = Runnable
	t.lock.Release()
	t.wake()
	t.yield()
	t.wait(p)
}

var currentMu sync.Mutex
var currentProc *Proc

// Current returns the process the calling goroutine represents. Valid
// only while that goroutine holds the CPU (i.e. between wait(p)
// returning and the next yield/Sleep/Exit call).
func Current() *Proc {
	currentMu.Lock()
	defer currentMu.Unlock()
	return currentProc
}

func setCurrent(p *Proc) {
	currentMu.Lock()
	currentProc = p
	currentMu.Unlock()
}

// Mypid completes internal/sleeplock.Sleeper, the one sleeper interface
// that records a holder pid.
func (t *Table) Mypid() defs.Pid_t {
	p := Current()
	if p == nil {
		return -1
	}
	return p.Pid
}

// Uptime reports elapsed time since the table (and so the simulated
// machine) booted, in clock ticks. Real xv6 increments a tick counter
// off the machine-mode timer interrupt; this kernel has no such
// interrupt source to ride, so it derives the same notion from wall
// clock time at a nominal 100 ticks/second.
func (t *Table) Uptime() uint64 {
	return uint64(time.Since(t.bootTime) / (10 * time.Millisecond))
}
