package file

import (
	"rvkernel/internal/circbuf"
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
	"rvkernel/internal/spinlock"
)

// PipeSleeper is the scheduler contract a pipe blocks a full writer or
// an empty reader on; installed once at boot, mirroring
// internal/sleeplock's own injection point.
type PipeSleeper interface {
	Sleep(chan_ any, lk *spinlock.Lock_t)
	Wakeup(chan_ any)
}

var pipeSleeper PipeSleeper

// SetSleeper installs the scheduler's sleep/wakeup implementation for
// pipes.
func SetSleeper(s PipeSleeper) { pipeSleeper = s }

// Pipe is an in-kernel byte pipe: a fixed PIPESIZE ring
// buffer with independent read/write-end liveness, so a reader sees EOF
// once every writer has closed and a writer gets EPIPE once every
// reader has closed.
type Pipe struct {
	lock      spinlock.Lock_t
	buf       circbuf.Circbuf_t
	readOpen  bool
	writeOpen bool
}

// NewPipe allocates a pipe with both ends open.
func NewPipe() *Pipe {
	p := &Pipe{readOpen: true, writeOpen: true}
	p.buf.Init(limits.PIPESIZE)
	return p
}

// CloseEnd marks one end of the pipe closed and wakes anyone blocked on
// the other end, since the liveness condition they're waiting on
// changed.
func (p *Pipe) CloseEnd(writeEnd bool) {
	p.lock.Acquire()
	if writeEnd {
		p.writeOpen = false
	} else {
		p.readOpen = false
	}
	p.lock.Release()
	pipeSleeper.Wakeup(p)
}

// Read blocks while the pipe is empty and a writer remains open,
// returning 0 (EOF) once every writer has closed.
func (p *Pipe) Read(dst []byte) (int, defs.Err_t) {
	p.lock.Acquire()
	for p.buf.Empty() && p.writeOpen {
		pipeSleeper.Sleep(p, &p.lock)
	}
	n := p.buf.Read(dst)
	p.lock.Release()
	pipeSleeper.Wakeup(p)
	return n, 0
}

// Write blocks while the pipe is full and a reader remains open,
// failing with EPIPE once every reader has closed.
func (p *Pipe) Write(src []byte) (int, defs.Err_t) {
	total := 0
	for total < len(src) {
		p.lock.Acquire()
		if !p.readOpen {
			p.lock.Release()
			return total, -defs.EPIPE
		}
		for p.buf.Full() && p.readOpen {
			pipeSleeper.Sleep(p, &p.lock)
		}
		if !p.readOpen {
			p.lock.Release()
			return total, -defs.EPIPE
		}
		n := p.buf.Write(src[total:])
		p.lock.Release()
		pipeSleeper.Wakeup(p)
		if n == 0 {
			continue
		}
		total += n
	}
	return total, 0
}
