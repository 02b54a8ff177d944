package mem

import (
	"testing"

	"rvkernel/internal/cpu"
)

func init() { cpu.InstallTestHooks() }

func TestAllocFreeDuality(t *testing.T) {
	const npages = 8
	arena := make([]byte, (npages+1)*PGSIZE)
	a := New(arena)
	if got := a.Nfree(); got != npages {
		t.Fatalf("Nfree() = %d, want %d", got, npages)
	}

	var got []Pa_t
	for i := 0; i < npages; i++ {
		p, ok := a.Alloc()
		if !ok {
			t.Fatalf("Alloc() failed early at %d", i)
		}
		if p%PGSIZE != 0 {
			t.Fatalf("frame %#x not page aligned", p)
		}
		got = append(got, p)
	}
	if _, ok := a.Alloc(); ok {
		t.Fatal("Alloc() succeeded past arena capacity")
	}

	seen := map[Pa_t]bool{}
	for _, p := range got {
		if seen[p] {
			t.Fatalf("frame %#x allocated twice live simultaneously", p)
		}
		seen[p] = true
	}

	for _, p := range got {
		a.Free(p)
	}
	if got := a.Nfree(); got != npages {
		t.Fatalf("Nfree() after full free = %d, want %d", got, npages)
	}
}

func TestFreeFillsJunk(t *testing.T) {
	arena := make([]byte, 2*PGSIZE)
	a := New(arena)
	p, ok := a.Alloc()
	if !ok {
		t.Fatal("Alloc failed")
	}
	b := a.Bytes(p)
	for i := range b {
		b[i] = 0x41
	}
	a.Free(p)
	// Free re-threads the list through the first 8 bytes of the frame, so
	// only inspect bytes beyond the link word.
	for i := 8; i < len(b); i++ {
		if b[i] != junkFree {
			t.Fatalf("byte %d = %#x, want junk %#x", i, b[i], junkFree)
		}
	}
}
