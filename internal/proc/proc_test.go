package proc

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
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/stat"
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
// and a small physical page arena, and installs it as the sleep/wakeup
// implementation for sleeplock, log, and pipes, exactly as a real boot
// sequence would before starting the first process.
func newTestTable(t *testing.T) *Table {
	t.Helper()
	cache := bio.New()
	disk := newMemDisk()
	cache.AttachDisk(0, disk)
	formatTiny(disk)
	sleeplock.SetSleeper(mountSleeper{})
	fsys := fs.Mount(cache, 0)

	arena := make([]byte, 256*4096)
	alloc := mem.New(arena)
	files := file.NewTable()

	tbl := NewTable(files, fsys, alloc)
	sleeplock.SetSleeper(tbl)
	log.SetSleeper(tbl)
	file.SetSleeper(tbl)
	return tbl
}

// waitFor polls until cond is true or the deadline passes, since the
// scheduler runs on its own goroutine and tests must observe its
// effects asynchronously rather than synchronously stepping it.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// waitSleeping blocks until p is observed parked in Sleep, reading its
// state under the table's own lock so the check is synchronized against
// the writer instead of racing it.
func waitSleeping(t *testing.T, tbl *Table, p *Proc) {
	t.Helper()
	waitFor(t, func() bool {
		tbl.lock.Acquire()
		defer tbl.lock.Release()
		return p.State == Sleeping
	})
}

func TestSpawnRunsBody(t *testing.T) {
	tbl := newTestTable(t)
	ran := make(chan defs.Pid_t, 1)
	tbl.Spawn(func(p *Proc) {
		ran <- p.Pid
		tbl.Exit(p, 0)
	})
	select {
	case pid := <-ran:
		if pid != 1 {
			t.Fatalf("got pid %d, want 1", pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("spawned body never ran")
	}
}

func TestForkChildSeesCopiedSpaceAndSharedFiles(t *testing.T) {
	tbl := newTestTable(t)
	childRan := make(chan struct{})
	var childPid, gotParent defs.Pid_t

	tbl.Spawn(func(p *Proc) {
		pid, err := tbl.Fork(p, func(c *Proc) {
			gotParent = c.Parent.Pid
			close(childRan)
			tbl.Exit(c, 0)
		})
		if err != 0 {
			t.Errorf("Fork: %v", err)
		}
		childPid = pid
		_, _, _ = tbl.Wait(p)
		tbl.Exit(p, 0)
	})

	select {
	case <-childRan:
	case <-time.After(2 * time.Second):
		t.Fatal("forked child never ran")
	}
	if gotParent != 1 {
		t.Fatalf("child's parent pid = %d, want 1", gotParent)
	}
	if childPid != 2 {
		t.Fatalf("child pid = %d, want 2", childPid)
	}
}

func TestWaitReapsExitedChildAndReturnsStatus(t *testing.T) {
	tbl := newTestTable(t)
	result := make(chan int, 1)

	tbl.Spawn(func(p *Proc) {
		_, err := tbl.Fork(p, func(c *Proc) {
			tbl.Exit(c, 42)
		})
		if err != 0 {
			t.Errorf("Fork: %v", err)
			tbl.Exit(p, 1)
			return
		}
		_, status, werr := tbl.Wait(p)
		if werr != 0 {
			t.Errorf("Wait: %v", werr)
		}
		result <- status
		tbl.Exit(p, 0)
	})

	select {
	case status := <-result:
		if status != 42 {
			t.Fatalf("got exit status %d, want 42", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestWaitWithNoChildrenFailsImmediately(t *testing.T) {
	tbl := newTestTable(t)
	done := make(chan defs.Err_t, 1)
	tbl.Spawn(func(p *Proc) {
		_, _, err := tbl.Wait(p)
		done <- err
		tbl.Exit(p, 0)
	})
	select {
	case err := <-done:
		if err == 0 {
			t.Fatal("expected an error waiting with no children")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestSleepWakeupOrdering(t *testing.T) {
	tbl := newTestTable(t)
	chanKey := new(int)
	woke := make(chan struct{})

	p := tbl.Spawn(func(p *Proc) {
		lk := spinlock.Mk("test")
		lk.Acquire()
		tbl.Sleep(chanKey, lk)
		lk.Release()
		close(woke)
		tbl.Exit(p, 0)
	})

	waitSleeping(t, tbl, p)
	tbl.Wakeup(chanKey)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke up")
	}
}

func TestKillWakesSleeperAndSetsFlag(t *testing.T) {
	tbl := newTestTable(t)
	chanKey := new(int)
	observed := make(chan bool, 1)

	p := tbl.Spawn(func(p *Proc) {
		lk := spinlock.Mk("test")
		lk.Acquire()
		tbl.Sleep(chanKey, lk)
		lk.Release()
		observed <- p.Killed
		tbl.Exit(p, 0)
	})

	waitSleeping(t, tbl, p)
	if err := tbl.Kill(p.Pid); err != 0 {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case killed := <-observed:
		if !killed {
			t.Fatal("Killed flag not observed set after wakeup")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("killed sleeper never woke up")
	}
}

func TestSchedulerRunsMultipleProcsRoundRobin(t *testing.T) {
	tbl := newTestTable(t)
	const n = 5
	seen := make(chan defs.Pid_t, n)

	for i := 0; i < n; i++ {
		tbl.Spawn(func(p *Proc) {
			seen <- p.Pid
			tbl.Exit(p, 0)
		})
	}

	got := map[defs.Pid_t]bool{}
	for i := 0; i < n; i++ {
		select {
		case pid := <-seen:
			got[pid] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d processes ran", i, n)
		}
	}
	if len(got) != n {
		t.Fatalf("expected %d distinct pids, got %d", n, len(got))
	}
}
