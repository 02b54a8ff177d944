// Package exec implements the exec system call's heavy lifting:
// resolve a path to an inode, parse its ELF header and program headers,
// build a fresh address space from its PT_LOAD segments, and lay out
// the initial user stack with argv pushed onto it. It does not itself
// touch a trapframe or resume user execution — this kernel models
// kernel-mode code as a Go goroutine rather than real RISC-V
// instruction fetch, so the caller (the exec syscall handler) is the
// one that swaps a process's Space and hands the returned entry/sp back
// to whatever collaborator drives that process's "user mode".
//
// Grounded on original_source's exec.rs (load each PT_LOAD segment,
// then reserve a guard page plus one stack page, push argv strings and
// the pointer array onto it 16-byte aligned) and the teacher's
// kernel/chentry.go for debug/elf usage conventions, generalized to
// read the whole inode into memory first (this kernel's inodes are
// small teaching-filesystem files, not mmaped demand-paged segments) so
// debug/elf can parse it with a single bytes.Reader rather than a
// custom io.ReaderAt over Inode.Read.
package exec

import (
	"bytes"
	"debug/elf"

	"rvkernel/internal/defs"
	"rvkernel/internal/fs"
	"rvkernel/internal/limits"
	"rvkernel/internal/mem"
	"rvkernel/internal/ustr"
	"rvkernel/internal/vm"
)

const maxArg = 32

// Result is what a successful Load hands back to the syscall layer:
// the freshly built address space, its initial program counter and
// stack pointer, and the argc a0 would receive.
type Result struct {
	Space *vm.Space
	Entry uintptr
	Sp    uintptr
	Argc  int
}

// Load resolves path against cwd, validates it as a 64-bit RISC-V
// executable ELF, maps its PT_LOAD segments into a new Space, and
// pushes argv onto a freshly allocated user stack. Load opens and
// closes its own fsys transaction around the namei/read, and
// physAlloc is the frame pool the new Space draws from.
func Load(fsys *fs.FS, physAlloc *mem.Allocator, cwd *fs.Inode, path ustr.Ustr, argv []string) (*Result, defs.Err_t) {
	if len(argv) > maxArg {
		return nil, -defs.EINVAL
	}

	fsys.Begin()
	ip := fsys.Namei(path, cwd)
	if ip == nil {
		fsys.End()
		return nil, -defs.ENOENT
	}
	ip.Lock()
	raw, err := readAll(ip)
	ip.Unlock()
	fsys.Put(ip)
	fsys.End()
	if err != 0 {
		return nil, err
	}

	ef, ferr := elf.NewFile(bytes.NewReader(raw))
	if ferr != nil {
		return nil, -defs.EINVAL
	}
	if ef.Class != elf.ELFCLASS64 || ef.Machine != elf.EM_RISCV || ef.Type != elf.ET_EXEC {
		return nil, -defs.EINVAL
	}

	space, serr := vm.NewSpace(physAlloc)
	if serr != 0 {
		return nil, serr
	}

	var sz uintptr
	loaded := false
	for _, ph := range ef.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if ph.Memsz < ph.Filesz {
			space.Free()
			return nil, -defs.EINVAL
		}
		if ph.Vaddr%limits.PGSIZE != 0 {
			space.Free()
			return nil, -defs.EINVAL
		}
		end := uintptr(ph.Vaddr + ph.Memsz)
		newSz, gerr := space.Grow(sz, end, flags2perm(ph.Flags))
		if gerr != 0 {
			space.Free()
			return nil, gerr
		}
		sz = newSz

		if werr := space.CopyOut(uintptr(ph.Vaddr), rawSlice(raw, ph.Off, ph.Filesz)); werr != 0 {
			space.Free()
			return nil, werr
		}
		loaded = true
	}
	if !loaded {
		space.Free()
		return nil, -defs.EINVAL
	}

	sz = roundup(sz)
	// The guard page is mapped without PTE_U, so user copies through it
	// fail while Free and Copy still find every page of [0, Sz) mapped.
	gpa, ok := physAlloc.Alloc()
	if !ok {
		space.Free()
		return nil, -defs.ENOMEM
	}
	if merr := space.MapPages(sz, gpa, limits.PGSIZE, vm.PTE_R|vm.PTE_W); merr != 0 {
		physAlloc.Free(gpa)
		space.Free()
		return nil, merr
	}
	space.Sz = sz + limits.PGSIZE
	stackTop, gerr := space.Grow(sz+limits.PGSIZE, sz+2*limits.PGSIZE, vm.PTE_W)
	if gerr != 0 {
		space.Free()
		return nil, gerr
	}
	sp := stackTop

	sp, argc, perr := pushArgv(space, sp, sz+limits.PGSIZE, argv)
	if perr != 0 {
		space.Free()
		return nil, perr
	}

	return &Result{Space: space, Entry: uintptr(ef.Entry), Sp: sp, Argc: argc}, 0
}

func flags2perm(flags elf.ProgFlag) uint64 {
	var perm uint64
	if flags&elf.PF_X != 0 {
		perm |= vm.PTE_X
	}
	if flags&elf.PF_W != 0 {
		perm |= vm.PTE_W
	}
	if flags&elf.PF_R != 0 {
		perm |= vm.PTE_R
	}
	return perm
}

func roundup(va uintptr) uintptr {
	return (va + limits.PGSIZE - 1) &^ (limits.PGSIZE - 1)
}

// readAll slurps an inode's entire content into memory — this kernel's
// on-disk files are small teaching-filesystem content, not something
// worth streaming through debug/elf a block at a time.
func readAll(ip *fs.Inode) ([]byte, defs.Err_t) {
	buf := make([]byte, 0, limits.BSIZE*4)
	var off uint32
	chunk := make([]byte, limits.BSIZE)
	for {
		n, err := ip.Read(chunk, off, uint32(len(chunk)))
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
		off += n
		if n < uint32(len(chunk)) {
			break
		}
	}
	return buf, 0
}

func rawSlice(raw []byte, off, n uint64) []byte {
	if off+n > uint64(len(raw)) {
		n = uint64(len(raw)) - off
	}
	return raw[off : off+n]
}

// pushArgv writes each argv string plus a NUL below sp, then the array
// of their user-space addresses, keeping sp 16-byte aligned the way the
// RISC-V calling convention requires, and refusing to push below
// stackBase (one page below the original sp, i.e. the single mapped
// stack page).
func pushArgv(space *vm.Space, sp, stackBase uintptr, argv []string) (uintptr, int, defs.Err_t) {
	var ptrs [maxArg + 1]uint64
	argc := len(argv)
	for i := argc - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		sp -= uintptr(len(s))
		sp -= sp % 16
		if sp < stackBase {
			return 0, 0, -defs.EINVAL
		}
		if err := space.CopyOut(sp, s); err != 0 {
			return 0, 0, err
		}
		ptrs[i] = uint64(sp)
	}
	ptrs[argc] = 0

	tableBytes := make([]byte, (argc+1)*8)
	for i := 0; i <= argc; i++ {
		putLe64(tableBytes[i*8:], ptrs[i])
	}
	sp -= uintptr(len(tableBytes))
	sp -= sp % 16
	if sp < stackBase {
		return 0, 0, -defs.EINVAL
	}
	if err := space.CopyOut(sp, tableBytes); err != 0 {
		return 0, 0, err
	}
	return sp, argc, 0
}

func putLe64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
