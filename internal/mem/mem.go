// Package mem implements the physical page allocator: a
// single-producer free list of 4 KiB frames in [kernelEnd, PHYSTOP),
// threaded through the first word of each free frame, protected by one
// spinlock. Grounded on the teacher's mem package (Pa_t address type,
// Physmem_t global, junk-fill-on-free discipline), simplified from its
// per-CPU free lists and refcounted page-table pages down to the plain
// single free list calls for — a fixed-hart teaching kernel has
// no call for the teacher's NUMA-oriented per-CPU caching.
//
// Physical memory is modeled as a backing []byte arena rather than raw
// hardware addresses: on real RISC-V virt hardware that arena is the
// kernel's direct-mapped view of DRAM, supplied by the boot collaborator
//; in tests it is ordinary Go-allocated memory. Pa_t is the
// frame's byte offset into that arena, matching how the teacher's Pa_t
// doubles as both a hardware address and, via Physmem.Dmap, a handle the
// allocator resolves to a usable slice.
package mem

import (
	"rvkernel/internal/limits"
	"rvkernel/internal/spinlock"
)

// Pa_t is a physical frame address: a page-aligned byte offset into the
// allocator's backing arena.
type Pa_t uintptr

const (
	PGSIZE  = limits.PGSIZE
	PGSHIFT = limits.PGSHIFT
)

// junk bytes used to catch use-after-free (on Free) and use-before-init
// (on Alloc) bugs, matching the teacher's allocator discipline.
const (
	junkFree  = 0x55
	junkAlloc = 0xaa
)

// Allocator manages a single contiguous arena of physical frames as a
// free-list stack: each free frame's first 8 bytes hold the arena offset
// of the next free frame (0 means "none").
type Allocator struct {
	lock     spinlock.Lock_t
	arena    []byte
	freehead Pa_t
	nfree    int
}

// New builds an allocator over a caller-supplied arena, whose length must
// be a multiple of PGSIZE; every page starts free. The arena's address
// 0 is reserved as the free-list null sentinel, so callers must not pass
// a frame meant to be addressable as Pa_t(0) — in practice the arena is
// never placed at physical address zero on real hardware (PHYSTOP et al.
// sit well above it), and test arenas simply treat offset 0 as unusable.
func New(arena []byte) *Allocator {
	if len(arena)%PGSIZE != 0 || len(arena) < 2*PGSIZE {
		panic("mem.New: arena not a whole number of pages")
	}
	a := &Allocator{lock: *spinlock.Mk("kmem"), arena: arena}
	for off := PGSIZE; off+PGSIZE <= len(arena); off += PGSIZE {
		a.freeLocked(Pa_t(off))
	}
	return a
}

func (a *Allocator) frame(p Pa_t) []byte {
	return a.arena[p : p+PGSIZE]
}

func fill(f []byte, b byte) {
	for i := range f {
		f[i] = b
	}
}

func getNext(f []byte) Pa_t {
	var v uintptr
	for i := 7; i >= 0; i-- {
		v = v<<8 | uintptr(f[i])
	}
	return Pa_t(v)
}

func putNext(f []byte, next Pa_t) {
	v := uintptr(next)
	for i := 0; i < 8; i++ {
		f[i] = byte(v)
		v >>= 8
	}
}

// Alloc returns one 4 KiB frame filled with junkAlloc bytes, or the null
// sentinel (0, false) if none remain ("out of memory").
func (a *Allocator) Alloc() (Pa_t, bool) {
	a.lock.Acquire()
	p := a.freehead
	if p != 0 {
		a.freehead = getNext(a.frame(p))
		a.nfree--
	}
	a.lock.Release()
	if p == 0 {
		return 0, false
	}
	fill(a.frame(p), junkAlloc)
	return p, true
}

// Bytes returns the frame's backing bytes. Valid only while the caller
// owns the frame (i.e. between a successful Alloc and the matching Free).
func (a *Allocator) Bytes(p Pa_t) []byte {
	return a.frame(p)
}

// Free returns p, which must be page-aligned and within the managed
// arena, to the free list after filling it with junkFree bytes.
func (a *Allocator) Free(p Pa_t) {
	if p%PGSIZE != 0 || p == 0 || int(p)+PGSIZE > len(a.arena) {
		panic("mem.Free: bad frame")
	}
	fill(a.frame(p), junkFree)
	a.lock.Acquire()
	a.freeLocked(p)
	a.lock.Release()
}

func (a *Allocator) freeLocked(p Pa_t) {
	putNext(a.frame(p), a.freehead)
	a.freehead = p
	a.nfree++
}

// Nfree reports the current free-frame count, for diagnostics and tests.
func (a *Allocator) Nfree() int {
	a.lock.Acquire()
	n := a.nfree
	a.lock.Release()
	return n
}
