package syscall

import (
	"testing"
	"time"

	"rvkernel/internal/bio"
	"rvkernel/internal/cpu"
	"rvkernel/internal/defs"
	"rvkernel/internal/file"
	"rvkernel/internal/fs"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	"rvkernel/internal/log"
	"rvkernel/internal/mem"
	"rvkernel/internal/proc"
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/stat"
	"rvkernel/internal/vm"
)

func init() { cpu.InstallTestHooks() }

type memDisk struct {
	blocks map[uint32][limits.BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[uint32][limits.BSIZE]byte)} }

func (d *memDisk) ReadBlock(blockno uint32, dst []byte) error {
	b := d.blocks[blockno]
	copy(dst, b[:])
	return nil
}

func (d *memDisk) WriteBlock(blockno uint32, src []byte) error {
	var b [limits.BSIZE]byte
	copy(b[:], src)
	d.blocks[blockno] = b
	return nil
}

func formatTiny(disk *memDisk) {
	const (
		logstart   = 2
		nlog       = limits.LOGSIZE
		inodestart = logstart + nlog
		ninodes    = 50
		inodeBlks  = (ninodes + fsfmt.InodesPerBlock - 1) / fsfmt.InodesPerBlock
		bmapstart  = inodestart + inodeBlks
		nblocks    = 200
	)
	sb := fsfmt.Superblock{
		Magic:      limits.FSMAGIC,
		Size:       bmapstart + 10 + nblocks,
		Nblocks:    nblocks,
		Ninodes:    ninodes,
		Nlog:       nlog,
		Logstart:   logstart,
		Inodestart: inodestart,
		Bmapstart:  bmapstart,
	}
	var sbbuf [limits.BSIZE]byte
	sb.Encode(sbbuf[:fsfmt.SuperblockSize])
	disk.blocks[1] = sbbuf
	disk.blocks[logstart] = [limits.BSIZE]byte{}

	var rootbuf [limits.BSIZE]byte
	var root fsfmt.Dinode
	root.Type = stat.T_DIR
	root.Nlink = 1
	root.Encode(rootbuf[limits.ROOTINO*fsfmt.DinodeSize : (limits.ROOTINO+1)*fsfmt.DinodeSize])
	disk.blocks[inodestart] = rootbuf
}

// mountSleeper serves the buffer sleep locks fs.Mount takes before the
// proc.Table that replaces it exists; nothing contends during the mount.
type mountSleeper struct{}

func (mountSleeper) Sleep(chan_ any, lk *spinlock.Lock_t) {
	lk.Release()
	lk.Acquire()
}
func (mountSleeper) Wakeup(chan_ any)  {}
func (mountSleeper) Mypid() defs.Pid_t { return -1 }

// newTestTable wires a proc.Table to a freshly mounted tiny filesystem
// and installs it as the sleep/wakeup implementation for sleeplock,
// log, and pipes, exactly as a real boot sequence would.
func newTestTable(t *testing.T) *proc.Table {
	t.Helper()
	cache := bio.New()
	disk := newMemDisk()
	cache.AttachDisk(0, disk)
	formatTiny(disk)
	sleeplock.SetSleeper(mountSleeper{})
	fsys := fs.Mount(cache, 0)

	arena := make([]byte, 1024*limits.PGSIZE)
	alloc := mem.New(arena)
	files := file.NewTable()

	tbl := proc.NewTable(files, fsys, alloc)
	sleeplock.SetSleeper(tbl)
	log.SetSleeper(tbl)
	file.SetSleeper(tbl)
	return tbl
}

// putPath maps (if not already mapped) one page at address 0 and writes
// path as a NUL-terminated string there, returning the Args.Space
// operations can copy it from.
func putPath(t *testing.T, p *proc.Proc, path string) {
	t.Helper()
	if p.Space.Sz == 0 {
		if _, err := p.Space.Grow(0, limits.PGSIZE, vm.PTE_R|vm.PTE_W); err != 0 {
			t.Fatalf("Grow: %v", err)
		}
	}
	buf := make([]byte, len(path)+1)
	copy(buf, path)
	if err := p.Space.CopyOut(0, buf); err != 0 {
		t.Fatalf("CopyOut path: %v", err)
	}
}

// putBytes maps (if needed) a second page at PGSIZE and writes b there,
// returning its user address — used for read/write buffer arguments.
func putBytes(t *testing.T, p *proc.Proc, b []byte) uint64 {
	t.Helper()
	if p.Space.Sz < 2*limits.PGSIZE {
		if _, err := p.Space.Grow(p.Space.Sz, 2*limits.PGSIZE, vm.PTE_R|vm.PTE_W); err != 0 {
			t.Fatalf("Grow: %v", err)
		}
	}
	if len(b) > 0 {
		if err := p.Space.CopyOut(limits.PGSIZE, b); err != 0 {
			t.Fatalf("CopyOut bytes: %v", err)
		}
	}
	return uint64(limits.PGSIZE)
}

// run spawns a single process and calls fn synchronously in its
// kernel-mode body, forwarding any panic/failure to the test via t.
func run(t *testing.T, tbl *proc.Table, fn func(p *proc.Proc, s *Sys)) {
	t.Helper()
	s := &Sys{Table: tbl}
	done := make(chan struct{})
	tbl.Spawn(func(p *proc.Proc) {
		fn(p, s)
		close(done)
		tbl.Exit(p, 0)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("syscall body never completed")
	}
}

func TestOpenCreateWriteReadClose(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		putPath(t, p, "/foo.txt")
		fdU, err := s.Open(p, Args{A: [6]uint64{0, OCreate | OWronly}, Space: p.Space})
		if err != 0 {
			t.Fatalf("Open create: %v", err)
		}
		fd := int32(fdU)

		payload := []byte("hello, kernel")
		bufAddr := putBytes(t, p, payload)
		n, err := s.Write(p, Args{A: [6]uint64{uint64(fd), bufAddr, uint64(len(payload))}, Space: p.Space})
		if err != 0 || n != uint64(len(payload)) {
			t.Fatalf("Write: n=%d err=%v", n, err)
		}
		if _, err := s.Close(p, Args{A: [6]uint64{uint64(fd)}}); err != 0 {
			t.Fatalf("Close: %v", err)
		}

		putPath(t, p, "/foo.txt")
		fdU2, err := s.Open(p, Args{A: [6]uint64{0, ORdonly}, Space: p.Space})
		if err != 0 {
			t.Fatalf("Open read: %v", err)
		}
		fd2 := int32(fdU2)

		readAddr := uint64(limits.PGSIZE)
		got, err := s.Read(p, Args{A: [6]uint64{uint64(fd2), readAddr, uint64(len(payload))}, Space: p.Space})
		if err != 0 {
			t.Fatalf("Read: %v", err)
		}
		var back [64]byte
		if cerr := p.Space.CopyIn(back[:got], uintptr(readAddr)); cerr != 0 {
			t.Fatalf("CopyIn: %v", cerr)
		}
		if string(back[:got]) != string(payload) {
			t.Fatalf("read back %q, want %q", back[:got], payload)
		}
	})
}

func TestPipeReadWrite(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		fdAddr := putBytes(t, p, nil)
		if _, err := s.Pipe(p, Args{A: [6]uint64{fdAddr}, Space: p.Space}); err != 0 {
			t.Fatalf("Pipe: %v", err)
		}
		var fds [8]byte
		if err := p.Space.CopyIn(fds[:], uintptr(fdAddr)); err != 0 {
			t.Fatalf("CopyIn fds: %v", err)
		}
		rfd := uint64(fds[0]) | uint64(fds[1])<<8 | uint64(fds[2])<<16 | uint64(fds[3])<<24
		wfd := uint64(fds[4]) | uint64(fds[5])<<8 | uint64(fds[6])<<16 | uint64(fds[7])<<24

		msg := []byte("ping")
		msgAddr := putBytes(t, p, msg)
		if n, err := s.Write(p, Args{A: [6]uint64{wfd, msgAddr, uint64(len(msg))}, Space: p.Space}); err != 0 || n != uint64(len(msg)) {
			t.Fatalf("Write to pipe: n=%d err=%v", n, err)
		}

		readAddr := uint64(2 * limits.PGSIZE)
		if _, err := p.Space.Grow(p.Space.Sz, uintptr(readAddr)+limits.PGSIZE, vm.PTE_R|vm.PTE_W); err != 0 {
			t.Fatalf("Grow: %v", err)
		}
		got, err := s.Read(p, Args{A: [6]uint64{rfd, readAddr, uint64(len(msg))}, Space: p.Space})
		if err != 0 || got != uint64(len(msg)) {
			t.Fatalf("Read from pipe: got=%d err=%v", got, err)
		}
		var back [4]byte
		if err := p.Space.CopyIn(back[:], uintptr(readAddr)); err != 0 {
			t.Fatalf("CopyIn: %v", err)
		}
		if string(back[:]) != "ping" {
			t.Fatalf("read %q, want ping", back[:])
		}
	})
}

func TestMkdirChdirAndRelativeCreate(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		putPath(t, p, "/sub")
		if _, err := s.Mkdir(p, Args{A: [6]uint64{0}, Space: p.Space}); err != 0 {
			t.Fatalf("Mkdir: %v", err)
		}
		putPath(t, p, "/sub")
		if _, err := s.Chdir(p, Args{A: [6]uint64{0}, Space: p.Space}); err != 0 {
			t.Fatalf("Chdir: %v", err)
		}

		putPath(t, p, "leaf")
		if _, err := s.Open(p, Args{A: [6]uint64{0, OCreate | OWronly}, Space: p.Space}); err != 0 {
			t.Fatalf("Open relative create: %v", err)
		}
	})
}

func TestUnlinkNonEmptyDirFailsThenSucceeds(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		putPath(t, p, "/d")
		if _, err := s.Mkdir(p, Args{A: [6]uint64{0}, Space: p.Space}); err != 0 {
			t.Fatalf("Mkdir: %v", err)
		}
		putPath(t, p, "/d/f")
		if _, err := s.Open(p, Args{A: [6]uint64{0, OCreate | OWronly}, Space: p.Space}); err != 0 {
			t.Fatalf("Open create: %v", err)
		}

		putPath(t, p, "/d")
		if _, err := s.Unlink(p, Args{A: [6]uint64{0}, Space: p.Space}); err != -defs.ENOTEMPTY {
			t.Fatalf("Unlink non-empty dir: err=%v, want ENOTEMPTY", err)
		}

		putPath(t, p, "/d/f")
		if _, err := s.Unlink(p, Args{A: [6]uint64{0}, Space: p.Space}); err != 0 {
			t.Fatalf("Unlink file: %v", err)
		}
		putPath(t, p, "/d")
		if _, err := s.Unlink(p, Args{A: [6]uint64{0}, Space: p.Space}); err != 0 {
			t.Fatalf("Unlink now-empty dir: %v", err)
		}
	})
}

func TestLinkCreatesSecondName(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		putPath(t, p, "/a")
		if _, err := s.Open(p, Args{A: [6]uint64{0, OCreate | OWronly}, Space: p.Space}); err != 0 {
			t.Fatalf("Open create: %v", err)
		}

		buf := make([]byte, 32)
		copy(buf, "/a")
		copy(buf[16:], "/b")
		if err := p.Space.CopyOut(0, buf); err != 0 {
			t.Fatalf("CopyOut: %v", err)
		}
		if _, err := s.Link(p, Args{A: [6]uint64{0, 16}, Space: p.Space}); err != 0 {
			t.Fatalf("Link: %v", err)
		}

		putPath(t, p, "/b")
		fdU, err := s.Open(p, Args{A: [6]uint64{0, ORdonly}, Space: p.Space})
		if err != 0 {
			t.Fatalf("Open /b: %v", err)
		}
		_ = fdU
	})
}

func TestSbrkGrowAndShrink(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		old, err := s.Sbrk(p, Args{A: [6]uint64{uint64(4 * limits.PGSIZE)}, Space: p.Space})
		if err != 0 {
			t.Fatalf("Sbrk grow: %v", err)
		}
		if old != 0 {
			t.Fatalf("first Sbrk returned %d, want 0", old)
		}
		if p.Space.Sz != 4*limits.PGSIZE {
			t.Fatalf("Sz = %d, want %d", p.Space.Sz, 4*limits.PGSIZE)
		}

		shrinkBy := -int32(2 * limits.PGSIZE)
		if _, err := s.Sbrk(p, Args{A: [6]uint64{uint64(uint32(shrinkBy))}, Space: p.Space}); err != 0 {
			t.Fatalf("Sbrk shrink: %v", err)
		}
		if p.Space.Sz != 2*limits.PGSIZE {
			t.Fatalf("Sz after shrink = %d, want %d", p.Space.Sz, 2*limits.PGSIZE)
		}
	})
}

func TestGetpidWaitAndKill(t *testing.T) {
	tbl := newTestTable(t)
	s := &Sys{Table: tbl}

	childDone := make(chan struct{})
	parent := tbl.Spawn(func(p *proc.Proc) {
		pidU, _ := s.Getpid(p, Args{})
		if defs.Pid_t(pidU) != p.Pid {
			t.Errorf("Getpid = %d, want %d", pidU, p.Pid)
		}

		if _, err := tbl.Fork(p, func(c *proc.Proc) {
			close(childDone)
			tbl.Exit(c, 7)
		}); err != 0 {
			t.Errorf("Fork: %v", err)
		}

		statusAddr := putBytes(t, p, nil)
		if _, err := s.Wait(p, Args{A: [6]uint64{statusAddr}, Space: p.Space}); err != 0 {
			t.Errorf("Wait: %v", err)
		}
		var back [4]byte
		if err := p.Space.CopyIn(back[:], uintptr(statusAddr)); err != 0 {
			t.Errorf("CopyIn status: %v", err)
		}
		tbl.Exit(p, 0)
	})

	select {
	case <-childDone:
	case <-time.After(5 * time.Second):
		t.Fatal("forked child never ran")
	}
	_ = parent
}

func TestExecReplacesSpace(t *testing.T) {
	tbl := newTestTable(t)
	run(t, tbl, func(p *proc.Proc, s *Sys) {
		payload := make([]byte, limits.PGSIZE)
		for i := range payload {
			payload[i] = 0x13 // RISC-V NOP encoding low byte, any filler works
		}
		elfBytes := buildTestELF(0, 0x0, payload)

		fsys := tbl.Fsys()
		fsys.Begin()
		ip := fsys.Alloc(stat.T_FILE)
		ip.Lock()
		ip.Nlink = 1
		ip.Update()
		if _, err := ip.Write(elfBytes, 0, uint32(len(elfBytes))); err != 0 {
			t.Fatalf("Write prog: %v", err)
		}
		ip.Unlock()
		root := fsys.Root()
		root.Lock()
		if err := root.DirLink([]byte("prog"), ip.Inum()); err != 0 {
			t.Fatalf("DirLink: %v", err)
		}
		root.Unlock()
		fsys.Put(ip)
		fsys.End()

		putPath(t, p, "/prog")
		oldSpace := p.Space
		if _, err := s.Exec(p, Args{A: [6]uint64{0}, Space: p.Space}, []string{"prog"}); err != 0 {
			t.Fatalf("Exec: %v", err)
		}
		if p.Space == oldSpace {
			t.Fatal("Exec did not replace the process's address space")
		}
	})
}

// buildTestELF hand-encodes a minimal 64-bit LE RISC-V ET_EXEC with one
// PT_LOAD segment, mirroring internal/exec's own test helper: there is
// no ELF writer anywhere in this kernel's dependency surface, only
// debug/elf's reader, so tests that need a loadable binary build the
// bytes by hand.
func buildTestELF(vaddr, entry uint64, payload []byte) []byte {
	const ehsize = 64
	const phsize = 56

	buf := make([]byte, ehsize+phsize+len(payload))
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	putU16 := func(off int, v uint16) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	}
	putU32 := func(off int, v uint32) {
		for i := 0; i < 4; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}

	putU16(16, 2)   // e_type = ET_EXEC
	putU16(18, 243) // e_machine = EM_RISCV
	putU32(20, 1)
	putU64(24, entry)
	putU64(32, ehsize)
	putU16(52, ehsize)
	putU16(54, phsize)
	putU16(56, 1)

	ph := ehsize
	putU32(ph+0, 1) // PT_LOAD
	putU32(ph+4, 5) // PF_R|PF_X
	putU64(ph+8, ehsize+phsize)
	putU64(ph+16, vaddr)
	putU64(ph+24, vaddr)
	putU64(ph+32, uint64(len(payload)))
	putU64(ph+40, uint64(len(payload)))
	putU64(ph+48, limits.PGSIZE)

	copy(buf[ehsize+phsize:], payload)
	return buf
}
