// Package console implements the line-disciplined console device: input
// editing (backspace, kill-line) driven by per-character interrupts, and
// a blocking read/write surface registered into internal/file's device
// table under defs.D_CONSOLE, exactly as the original's console.init()
// installs itself into DEVSW[CONSOLE].
//
// Grounded on original_source's console.rs: consoleintr's edit-in-place
// line buffer and the Devsw::read/write pair it backs. The UART
// putc_sync primitive consoleintr echoes through is a collaborator's
// MMIO concern out of this kernel's scope, reached only through Hooks,
// following the same injection pattern cpu/sleeplock/log/file use for
// their own hardware and scheduler boundaries.
package console

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/file"
	"rvkernel/internal/spinlock"
)

// backspace is consoleintr's sentinel for "erase the echoed character",
// distinct from any possible byte value since it doesn't fit in a byte.
const backspace = 0x100

// inputBufSize bounds the line-edit buffer, matching the original's
// INPUT_BUF_SIZE.
const inputBufSize = 128

// Hooks is the UART collaborator's output primitive. Installed once at
// boot; MMIO/UART itself is out of this kernel's scope.
type Hooks interface {
	// PutcSync writes c to the console's underlying serial device,
	// blocking until it's been transmitted.
	PutcSync(c byte)
}

var hooks Hooks

// SetHooks installs the UART output primitive.
func SetHooks(h Hooks) { hooks = h }

// Sleeper is the scheduler's sleep/wakeup contract, the same
// Sleep/Wakeup pair internal/log and internal/file each declare
// independently for their own blocking points rather than sharing one
// cross-package interface.
type Sleeper interface {
	Sleep(chan_ any, lk *spinlock.Lock_t)
	Wakeup(chan_ any)
}

var sleeper Sleeper

// SetSleeper installs the scheduler's sleep/wakeup implementation.
func SetSleeper(s Sleeper) { sleeper = s }

// Console is the system console: a line-edited input buffer plus a
// synchronous character-at-a-time output path.
type Console struct {
	mu  spinlock.Lock_t
	buf [inputBufSize]byte
	r   int // next index consoleread will consume
	w   int // one past the last index a full line has been committed through
	e   int // next index consoleintr will edit
}

// New builds an unregistered console; call Init to wire it into
// internal/file's device table.
func New() *Console {
	return &Console{mu: *spinlock.Mk("console")}
}

// Init registers c as the driver for defs.D_CONSOLE, so files opened
// against that major dispatch Read/Write here.
func (c *Console) Init() {
	file.RegisterDevice(defs.D_CONSOLE, c)
}

// putc writes one character to the UART, translating the backspace
// sentinel into the erase-with-space-and-backspace sequence a real
// terminal needs, same as the original's Console::putc.
func (c *Console) putc(ch uint16) {
	if hooks == nil {
		return
	}
	if ch == backspace {
		hooks.PutcSync(0x08)
		hooks.PutcSync(0x20)
		hooks.PutcSync(0x08)
	} else {
		hooks.PutcSync(byte(ch))
	}
}

// Intr is the console's input-interrupt handler: a UART driver calls it
// once per received byte. 'P' is reserved upstream for a process-dump
// hotkey (not wired here, since this kernel's proc table doesn't expose
// one); 'U' kills the in-progress line; backspace/delete erases the last
// character; anything else is echoed and appended, waking a blocked
// reader once a full line (or the 'D' end-of-file marker) has arrived.
func (c *Console) Intr(ch byte) {
	c.mu.Acquire()
	defer c.mu.Release()

	switch ch {
	case 'U':
		for c.e != c.w && c.buf[(c.e-1)%inputBufSize] != '\n' {
			c.e--
			c.putc(backspace)
		}
	case 'H', 0x7f:
		if c.e != c.w {
			c.e--
			c.putc(backspace)
		}
	default:
		if ch == 0 || c.e-c.r >= inputBufSize {
			return
		}
		if ch == '\r' {
			ch = '\n'
		}
		c.putc(uint16(ch))
		c.buf[c.e%inputBufSize] = ch
		c.e++
		if ch == '\n' || ch == ctrlD || c.e-c.r == inputBufSize {
			c.w = c.e
			if sleeper != nil {
				sleeper.Wakeup(&c.r)
			}
		}
	}
}

// ctrlD is the end-of-file marker consoleintr/consoleread recognize,
// matching the original's use of the literal character 'D' rather than
// the real ASCII EOT control code — a quirk of the source this kernel
// reproduces rather than silently "fixing".
const ctrlD = 'D'

// Read copies up to one line of buffered input into dst, blocking until
// a full line (or end-of-file marker) has arrived. Satisfies
// file.Devsw.
func (c *Console) Read(f *file.File, dst []byte) (int, defs.Err_t) {
	target := len(dst)
	n := 0

	c.mu.Acquire()
	defer c.mu.Release()
	for n < target {
		for c.r == c.w {
			if sleeper == nil {
				return n, -defs.EIO
			}
			sleeper.Sleep(&c.r, &c.mu)
		}

		ch := c.buf[c.r%inputBufSize]
		c.r++

		if ch == ctrlD {
			if n < target {
				c.r--
			}
			break
		}

		dst[n] = ch
		n++

		if ch == '\n' {
			break
		}
	}
	return n, 0
}

// Write sends each byte of src to the UART in turn. Satisfies
// file.Devsw.
func (c *Console) Write(f *file.File, src []byte) (int, defs.Err_t) {
	for _, ch := range src {
		c.putc(uint16(ch))
	}
	return len(src), 0
}
