// Package vm implements the Sv39 virtual-memory layer: three
// 9-bit page-table levels over a 12-bit page offset, page-table walk/map/
// unmap, and the copy_in/copy_out/copy_in_str family that bounces kernel
// data across a user page table.
//
// Grounded on the teacher's vm package (Vm_t as the address-space handle,
// Pa_t as the physical-address currency, the Lock_pmap/Unlock_pmap
// discipline around any PTE walk), generalized from biscuit's x86-64
// four-level paging with copy-on-write anonymous/file mappings down to
// the plain Sv39 three-level mapping calls for: this kernel has
// no mmap or demand paging, so every user page is
// eagerly backed by a physical frame from internal/mem.
package vm

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
	"rvkernel/internal/mem"
	"rvkernel/internal/spinlock"
)

// PTE permission bits.
const (
	PTE_V = 1 << 0
	PTE_R = 1 << 1
	PTE_W = 1 << 2
	PTE_X = 1 << 3
	PTE_U = 1 << 4
)

const (
	pxMask  = 0x1ff // 9 bits
	pgShift = limits.PGSHIFT
)

// pxShift returns the bit offset of the level-th (0=leaf) 9-bit index
// within a 39-bit virtual address.
func pxShift(level int) uint {
	return uint(pgShift) + 9*uint(level)
}

func px(level int, va uintptr) uintptr {
	return (va >> pxShift(level)) & pxMask
}

// pte2pa / pa2pte convert between a physical frame address and the form
// stored in a PTE's address field (shifted so the low 10 bits are free
// for flags, as Sv39 defines).
func pa2pte(pa mem.Pa_t) uint64 { return uint64(pa>>pgShift) << 10 }
func pte2pa(pte uint64) mem.Pa_t { return mem.Pa_t((pte >> 10) << pgShift) }

// Pagetable is one page-table page: 512 64-bit entries, addressed by its
// physical frame.
type Pagetable struct {
	pa mem.Pa_t
}

// Space is a process's address space: a Pagetable root plus the
// allocator it and all its mapped user pages draw frames from. It
// embeds a spinlock, mirroring Vm_t's embedded sync.Mutex; the methods
// in this package do not acquire it themselves.
type Space struct {
	spinlock.Lock_t
	alloc *mem.Allocator
	Root  *Pagetable
	Sz    uintptr // bytes of user address space currently valid, [0,Sz)
}

func (s *Space) entries(pt *Pagetable) []uint64 {
	b := s.alloc.Bytes(pt.pa)
	out := make([]uint64, 512)
	for i := range out {
		out[i] = leU64(b[i*8:])
	}
	return out
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func (s *Space) pteAt(pt *Pagetable, idx uintptr) uint64 {
	return leU64(s.alloc.Bytes(pt.pa)[idx*8:])
}

func (s *Space) setPte(pt *Pagetable, idx uintptr, v uint64) {
	putLeU64(s.alloc.Bytes(pt.pa)[idx*8:], v)
}

// NewSpace allocates a fresh, all-invalid top-level page table drawing
// frames from alloc.
func NewSpace(alloc *mem.Allocator) (*Space, defs.Err_t) {
	pa, ok := alloc.Alloc()
	if !ok {
		return nil, -defs.ENOMEM
	}
	zero(alloc.Bytes(pa))
	return &Space{alloc: alloc, Root: &Pagetable{pa: pa}}, 0
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Walk returns the leaf PTE's location (table, index) for va. If create
// is set, missing intermediate tables are allocated and zeroed. Panics if
// va is out of range; fails if an intermediate table is missing and
// create is unset, or if an allocation fails.
func (s *Space) Walk(va uintptr, create bool) (pt *Pagetable, idx uintptr, err defs.Err_t) {
	if va >= limits.MAXVA {
		panic("vm.Walk: va out of range")
	}
	pt = s.Root
	for level := 2; level > 0; level-- {
		i := px(level, va)
		pte := s.pteAt(pt, i)
		if pte&PTE_V != 0 {
			pt = &Pagetable{pa: pte2pa(pte)}
			continue
		}
		if !create {
			return nil, 0, -defs.ENOMEM
		}
		pa, ok := s.alloc.Alloc()
		if !ok {
			return nil, 0, -defs.ENOMEM
		}
		zero(s.alloc.Bytes(pa))
		s.setPte(pt, i, pa2pte(pa)|PTE_V)
		pt = &Pagetable{pa: pa}
	}
	return pt, px(0, va), 0
}

// WalkAddr resolves va to its mapped physical frame base, or the null
// sentinel if unmapped/inaccessible from user mode.
func (s *Space) WalkAddr(va uintptr) (mem.Pa_t, bool) {
	pt, idx, err := s.Walk(va, false)
	if err != 0 {
		return 0, false
	}
	pte := s.pteAt(pt, idx)
	if pte&PTE_V == 0 || pte&PTE_U == 0 {
		return 0, false
	}
	return pte2pa(pte), true
}

// MapPages maps each page spanning [va, va+size) to the corresponding
// page of the physical run starting at pa, with the given permission
// bits. va need not be page-aligned. Re-mapping an already-valid leaf is
// a programmer error and panics.
func (s *Space) MapPages(va uintptr, pa mem.Pa_t, size int, perm uint64) defs.Err_t {
	if size <= 0 {
		panic("vm.MapPages: bad size")
	}
	first := util_rounddown(va)
	last := util_rounddown(va + uintptr(size) - 1)
	for a, p := first, pa; ; a, p = a+limits.PGSIZE, p+limits.PGSIZE {
		pt, idx, err := s.Walk(a, true)
		if err != 0 {
			return err
		}
		if s.pteAt(pt, idx)&PTE_V != 0 {
			panic("vm.MapPages: remap of valid leaf")
		}
		s.setPte(pt, idx, pa2pte(p)|perm|PTE_V)
		if a == last {
			break
		}
	}
	return 0
}

func util_rounddown(va uintptr) uintptr {
	return va &^ (limits.PGSIZE - 1)
}

// Unmap removes npages leaf mappings starting at the page-aligned va,
// which must all exist and be leaves; if free is set, the backing frames
// are returned to the allocator.
func (s *Space) Unmap(va uintptr, npages int, free bool) {
	if va%limits.PGSIZE != 0 {
		panic("vm.Unmap: va not page aligned")
	}
	for i := 0; i < npages; i++ {
		a := va + uintptr(i*limits.PGSIZE)
		pt, idx, err := s.Walk(a, false)
		if err != 0 {
			panic("vm.Unmap: missing mapping")
		}
		pte := s.pteAt(pt, idx)
		if pte&PTE_V == 0 {
			panic("vm.Unmap: not mapped")
		}
		if pte&(PTE_R|PTE_W|PTE_X) == 0 {
			panic("vm.Unmap: not a leaf")
		}
		if free {
			s.alloc.Free(pte2pa(pte))
		}
		s.setPte(pt, idx, 0)
	}
}
