package vm

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
)

// Grow extends the user address space from old to new bytes (both
// rounded up to a page), mapping and zeroing a fresh frame for every new
// page with the given permission plus PTE_U — the page-granularity sbrk
// backing. On partial failure, the pages already
// mapped by this call are unwound so the space is left exactly as it was
// found.
func (s *Space) Grow(old, new uintptr, perm uint64) (uintptr, defs.Err_t) {
	if new < old {
		return old, 0
	}
	oldUp := util_roundup(old)
	newUp := util_roundup(new)
	var mapped uintptr
	for a := oldUp; a < newUp; a += limits.PGSIZE {
		pa, ok := s.alloc.Alloc()
		if !ok {
			s.Unmap(oldUp, int(mapped/limits.PGSIZE), true)
			return old, -defs.ENOMEM
		}
		zero(s.alloc.Bytes(pa))
		if err := s.MapPages(a, pa, limits.PGSIZE, perm|PTE_U); err != 0 {
			s.alloc.Free(pa)
			s.Unmap(oldUp, int(mapped/limits.PGSIZE), true)
			return old, err
		}
		mapped += limits.PGSIZE
	}
	s.Sz = new
	return new, 0
}

// Shrink releases the user address space from new to old bytes (both
// rounded up to a page), unmapping and freeing every page past the new
// boundary.
func (s *Space) Shrink(old, new uintptr) uintptr {
	if new >= old {
		return old
	}
	oldUp := util_roundup(old)
	newUp := util_roundup(new)
	if newUp < oldUp {
		npages := int((oldUp - newUp) / limits.PGSIZE)
		s.Unmap(newUp, npages, true)
	}
	s.Sz = new
	return new
}

func util_roundup(va uintptr) uintptr {
	return (va + limits.PGSIZE - 1) &^ (limits.PGSIZE - 1)
}

// Free unmaps and frees the entire user region [0, Sz), then recursively
// frees the page-table pages themselves.
func (s *Space) Free() {
	if s.Sz > 0 {
		s.Unmap(0, int(util_roundup(s.Sz)/limits.PGSIZE), true)
	}
	s.freeTable(s.Root, 2)
	s.Root = nil
}

// freeTable recursively frees a page-table page and, for non-leaf
// levels, every child table it still points at. Leaf (data) mappings
// must already have been unmapped by the caller before calling Free.
func (s *Space) freeTable(pt *Pagetable, level int) {
	if level > 0 {
		for i := uintptr(0); i < 512; i++ {
			pte := s.pteAt(pt, i)
			if pte&PTE_V == 0 {
				continue
			}
			if pte&(PTE_R|PTE_W|PTE_X) != 0 {
				panic("vm.freeTable: leaf mapping still present")
			}
			s.freeTable(&Pagetable{pa: pte2pa(pte)}, level-1)
		}
	}
	s.alloc.Free(pt.pa)
}

// Copy deep-copies every mapped user page in [0, Sz) from s into dst,
// preserving permissions — used by fork to give the child process its
// own physical frames with identical contents.
// Fails atomically: on error, any pages already copied into dst are
// unwound.
func (s *Space) Copy(dst *Space) defs.Err_t {
	n := int(util_roundup(s.Sz) / limits.PGSIZE)
	for i := 0; i < n; i++ {
		va := uintptr(i) * limits.PGSIZE
		pt, idx, err := s.Walk(va, false)
		if err != 0 {
			dst.Unmap(0, i, true)
			return err
		}
		pte := s.pteAt(pt, idx)
		perm := (pte & 0x3ff) &^ PTE_V
		pa, ok := dst.alloc.Alloc()
		if !ok {
			dst.Unmap(0, i, true)
			return -defs.ENOMEM
		}
		copy(dst.alloc.Bytes(pa), s.alloc.Bytes(pte2pa(pte)))
		if err := dst.MapPages(va, pa, limits.PGSIZE, perm); err != 0 {
			dst.alloc.Free(pa)
			dst.Unmap(0, i, true)
			return err
		}
	}
	dst.Sz = s.Sz
	return 0
}
