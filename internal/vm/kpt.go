package vm

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
	"rvkernel/internal/mem"
)

// Region describes one range the kernel page table must carry, mapped
// at pa == va when Identity is set and at Pa otherwise: MMIO windows (UART/VirtIO/PLIC, owned by the out-of-scope
// driver modules) plus the kernel's own text/data/trampoline/stacks
//.
type Region struct {
	Name     string
	Base     uintptr
	Size     uintptr
	Perm     uint64
	Identity bool // true: pa == va; false, Pa gives the backing frame
	Pa       uintptr
}

// guardedStackRegions lays out NPROC two-page kernel stacks with a
// guard page between each, following the teacher's habit of leaving a
// deliberate unmapped hole so a stack overrun faults instead of
// silently corrupting the next process's stack.
func guardedStackRegions(base uintptr, backing func(int) uintptr) []Region {
	regs := make([]Region, 0, limits.NPROC)
	for i := 0; i < limits.NPROC; i++ {
		va := base + uintptr(i)*3*limits.PGSIZE // 2 stack pages + 1 guard page
		regs = append(regs, Region{
			Name:     "kstack",
			Base:     va,
			Size:     2 * limits.PGSIZE,
			Perm:     PTE_R | PTE_W,
			Identity: false,
			Pa:       backing(i),
		})
	}
	return regs
}

// NewKernelSpace builds the supervisor-mode page table: a mapping
// (identity or Pa-backed, per Region.Identity) for every MMIO/kernel
// region the out-of-scope boot and driver code hands in, plus one pair of guarded stack pages per process-table
// slot. The kernel never runs without paging enabled, so
// this table is what satp is loaded with before the scheduler starts.
func NewKernelSpace(alloc *mem.Allocator, regions []Region, kstackBase uintptr, kstackBacking func(int) uintptr) (*Space, defs.Err_t) {
	s, err := NewSpace(alloc)
	if err != 0 {
		return nil, err
	}
	for _, r := range regions {
		pa := r.Pa
		if r.Identity {
			pa = r.Base
		}
		if err := s.MapPages(r.Base, mem.Pa_t(pa), int(r.Size), r.Perm); err != 0 {
			return nil, err
		}
	}
	for _, r := range guardedStackRegions(kstackBase, kstackBacking) {
		if err := s.MapPages(r.Base, mem.Pa_t(r.Pa), int(r.Size), r.Perm); err != 0 {
			return nil, err
		}
	}
	return s, 0
}
