package fs

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"rvkernel/internal/bio"
	"rvkernel/internal/cpu"
	"rvkernel/internal/defs"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	"rvkernel/internal/log"
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/stat"
	"rvkernel/internal/ustr"
)

func init() { cpu.InstallTestHooks() }

type fakeSleeper struct{}

func (fakeSleeper) Sleep(chan_ any, lk *spinlock.Lock_t) {
	lk.Release()
	lk.Acquire()
}
func (fakeSleeper) Wakeup(chan_ any) {}
func (fakeSleeper) Mypid() defs.Pid_t { return 0 }

func init() {
	log.SetSleeper(fakeSleeper{})
	sleeplock.SetSleeper(fakeSleeper{})
}

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

// formatTiny lays out a minimal filesystem image by hand (the real
// builder is cmd/mkfs): superblock at block 1, a small log, a handful
// of inode blocks, a one-block bitmap, then data blocks. The root
// directory inode is written with no data block, so it holds no "." or
// ".." entries.
func formatTiny(t *testing.T, disk *memDisk) {
	t.Helper()
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

	var hdr [limits.BSIZE]byte
	disk.blocks[logstart] = hdr

	var rootbuf [limits.BSIZE]byte
	var root fsfmt.Dinode
	root.Type = stat.T_DIR
	root.Nlink = 1
	root.Encode(rootbuf[limits.ROOTINO*fsfmt.DinodeSize : (limits.ROOTINO+1)*fsfmt.DinodeSize])
	disk.blocks[inodestart] = rootbuf
}

func mountTiny(t *testing.T) (*bio.Cache, *FS) {
	t.Helper()
	cache := bio.New()
	disk := newMemDisk()
	cache.AttachDisk(0, disk)
	formatTiny(t, disk)
	return cache, Mount(cache, 0)
}

func TestAllocAndWriteReadRoundTrip(t *testing.T) {
	_, fsys := mountTiny(t)

	fsys.Begin()
	ip := fsys.Alloc(stat.T_FILE)
	if ip == nil {
		t.Fatal("Alloc returned nil")
	}
	ip.Lock()
	ip.Nlink = 1
	ip.Update()
	data := []byte("hello, filesystem")
	if n, err := ip.Write(data, 0, uint32(len(data))); err != 0 || n != uint32(len(data)) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	ip.Unlock()
	fsys.End()

	ip.Lock()
	buf := make([]byte, len(data))
	if n, err := ip.Read(buf, 0, uint32(len(data))); err != 0 || n != uint32(len(data)) {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	ip.Unlock()
	if string(buf) != string(data) {
		t.Fatalf("got %q, want %q", buf, data)
	}

	fsys.Begin()
	fsys.Put(ip)
	fsys.End()
}

func TestDirLinkAndNamei(t *testing.T) {
	_, fsys := mountTiny(t)
	root := fsys.Root()

	fsys.Begin()
	file := fsys.Alloc(stat.T_FILE)
	file.Lock()
	file.Nlink = 1
	file.Update()
	file.Unlock()

	root.Lock()
	if err := root.DirLink(ustr.Ustr("greeting"), file.Inum()); err != 0 {
		t.Fatalf("DirLink: %v", err)
	}
	root.Unlock()
	fsys.End()

	found := fsys.Namei(ustr.Ustr("/greeting"), root)
	if found == nil {
		t.Fatal("Namei did not find /greeting")
	}
	if found.Inum() != file.Inum() {
		t.Fatalf("got inum %d, want %d", found.Inum(), file.Inum())
	}

	parent, elem := fsys.NameiParent(ustr.Ustr("/greeting"), root)
	if parent == nil || parent.Inum() != root.Inum() || string(elem) != "greeting" {
		t.Fatalf("NameiParent returned wrong result")
	}
}

func TestDirLinkDuplicateFails(t *testing.T) {
	_, fsys := mountTiny(t)
	root := fsys.Root()

	fsys.Begin()
	f1 := fsys.Alloc(stat.T_FILE)
	f2 := fsys.Alloc(stat.T_FILE)
	root.Lock()
	if err := root.DirLink(ustr.Ustr("dup"), f1.Inum()); err != 0 {
		t.Fatalf("first DirLink: %v", err)
	}
	if err := root.DirLink(ustr.Ustr("dup"), f2.Inum()); err == 0 {
		t.Fatal("expected EEXIST on duplicate name")
	}
	root.Unlock()
	fsys.End()
}

func TestTruncFreesBlocksAndDoubleFreePanics(t *testing.T) {
	_, fsys := mountTiny(t)

	fsys.Begin()
	ip := fsys.Alloc(stat.T_FILE)
	ip.Lock()
	ip.Nlink = 1
	big := make([]byte, limits.BSIZE*3)
	if _, err := ip.Write(big, 0, uint32(len(big))); err != 0 {
		t.Fatalf("Write: %v", err)
	}
	addr := ip.Addrs[0]
	ip.trunc()
	ip.Unlock()
	fsys.End()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	fsys.Begin()
	fsys.bfree(addr)
	fsys.End()
}

// TestUpdatePersistsExactFieldsToDisk confirms Update's write lands the
// in-memory fields byte-for-byte at the inode's disk block, independent
// of whatever Alloc happened to leave there beforehand.
func TestUpdatePersistsExactFieldsToDisk(t *testing.T) {
	cache, fsys := mountTiny(t)

	fsys.Begin()
	ip := fsys.Alloc(stat.T_FILE)
	ip.Lock()
	ip.Nlink = 2
	ip.Major, ip.Minor = 0, 0
	ip.Size = 123
	ip.Update()
	ip.Unlock()
	fsys.End()

	want := fsfmt.Dinode{Type: stat.T_FILE, Nlink: 2, Size: 123}

	blockno := fsys.inodeBlock(ip.Inum())
	buf := cache.Get(fsys.dev, blockno)
	cache.Read(buf)
	off := (ip.Inum() % uint32(fsfmt.InodesPerBlock)) * uint32(fsfmt.DinodeSize)
	got := fsfmt.DecodeDinode(buf.Data[off : off+uint32(fsfmt.DinodeSize)])
	cache.Release(buf)

	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("on-disk inode mismatch (-want +got):\n%s", diff)
	}
}
