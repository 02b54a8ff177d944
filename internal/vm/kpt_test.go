package vm

import (
	"testing"

	"rvkernel/internal/limits"
)

func TestNewKernelSpaceMapsRegionsAndStacks(t *testing.T) {
	a := newTestAlloc(t, limits.NPROC+64)
	uartPa, ok := a.Alloc()
	if !ok {
		t.Fatal("Alloc failed")
	}
	regions := []Region{
		{Name: "uart", Base: 0x10000000, Size: limits.PGSIZE, Perm: PTE_R | PTE_W, Identity: false, Pa: uintptr(uartPa)},
	}
	backing := func(i int) uintptr {
		pa, ok := a.Alloc()
		if !ok {
			t.Fatal("Alloc failed for kstack")
		}
		return uintptr(pa)
	}
	ks, err := NewKernelSpace(a, regions, 0x3f00000000, backing)
	if err != 0 {
		t.Fatalf("NewKernelSpace: %v", err)
	}
	pt, idx, err := ks.Walk(0x10000000, false)
	if err != 0 {
		t.Fatalf("walk uart: %v", err)
	}
	if pte := ks.pteAt(pt, idx); pte&PTE_V == 0 {
		t.Fatal("uart region not mapped")
	}
}
