// Command mkfs builds a bootable filesystem image for the kernel: a
// boot block, superblock, redo log, inode region, free-block bitmap,
// and data region, laid out the way internal/fs expects to find them
// at mount time, with the root directory pre-populated with "." and
// ".." entries.
//
// Grounded on the teacher's mkfs command (flags, addfiles-style host
// directory walk) and its ufs.MkDisk image layout step; the parallel
// region-zeroing pass is new, using golang.org/x/sync/errgroup the way
// the rest of the example pack reaches for errgroup to fan out
// independent I/O instead of a hand-rolled worker pool.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"rvkernel/internal/bio"
	"rvkernel/internal/blockdev"
	"rvkernel/internal/defs"
	rvfs "rvkernel/internal/fs"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	rvlog "rvkernel/internal/log"
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/stat"
	"rvkernel/internal/ustr"
)

// syncSleeper makes Begin/End's lock acquisition a plain spin-release-
// reacquire outside of any scheduler: cmd/mkfs runs single-goroutine,
// so there is never actually anyone to wake.
type syncSleeper struct{}

func (syncSleeper) Sleep(chan_ any, lk *spinlock.Lock_t) {
	lk.Release()
	lk.Acquire()
}
func (syncSleeper) Wakeup(chan_ any)   {}
func (syncSleeper) Mypid() defs.Pid_t  { return 0 }

func init() {
	rvlog.SetSleeper(syncSleeper{})
	sleeplock.SetSleeper(syncSleeper{})
}

// layout describes where each region of the image begins, in blocks.
type layout struct {
	nlog       uint32
	ninodes    uint32
	nblocks    uint32
	logstart   uint32
	inodestart uint32
	bmapstart  uint32
	datastart  uint32
	totalBlks  uint32
}

func newLayout(ninodes, nblocks uint32) layout {
	l := layout{
		nlog:       limits.LOGSIZE,
		ninodes:    ninodes,
		nblocks:    nblocks,
		logstart:   2, // block 0 is boot, block 1 is the superblock
	}
	l.inodestart = l.logstart + l.nlog
	inodeBlks := (l.ninodes + fsfmt.InodesPerBlock - 1) / fsfmt.InodesPerBlock
	l.bmapstart = l.inodestart + inodeBlks
	bmapBlks := (l.nblocks + limits.BSIZE*8 - 1) / (limits.BSIZE * 8)
	l.datastart = l.bmapstart + bmapBlks
	l.totalBlks = l.datastart + l.nblocks
	return l
}

func zeroRegion(d *blockdev.FileBlk, start, n uint32) error {
	var zero [limits.BSIZE]byte
	var g errgroup.Group
	const fanout = 8
	chunk := (n + fanout - 1) / fanout
	if chunk == 0 {
		return nil
	}
	for c := uint32(0); c < n; c += chunk {
		lo, hi := c, c+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for b := start + lo; b < start+hi; b++ {
				if err := d.WriteBlock(b, zero[:]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func writeSuperblock(d *blockdev.FileBlk, l layout) error {
	sb := fsfmt.Superblock{
		Magic:      limits.FSMAGIC,
		Size:       l.totalBlks,
		Nblocks:    l.nblocks,
		Ninodes:    l.ninodes,
		Nlog:       l.nlog,
		Logstart:   l.logstart,
		Inodestart: l.inodestart,
		Bmapstart:  l.bmapstart,
	}
	var b [limits.BSIZE]byte
	sb.Encode(b[:fsfmt.SuperblockSize])
	return d.WriteBlock(1, b[:])
}

// seedRoot writes the root inode (T_DIR, Nlink=1) directly to
// its disk inode slot and allocates one data block holding "." and ".."
// dirents, both pointing at ROOTINO, and marks that block used in the
// bitmap. This happens before the log/FS machinery exists, the same way
// the teacher's ufs.MkDisk writes structures directly rather than
// through a mounted filesystem.
func seedRoot(d *blockdev.FileBlk, l layout) error {
	rootBlk := l.inodestart + limits.ROOTINO/fsfmt.InodesPerBlock
	var ib [limits.BSIZE]byte
	if err := d.ReadBlock(rootBlk, ib[:]); err != nil {
		return err
	}
	var root fsfmt.Dinode
	root.Type = stat.T_DIR
	root.Nlink = 1
	root.Size = 2 * fsfmt.DirentSize
	root.Addrs[0] = l.datastart
	slot := limits.ROOTINO % fsfmt.InodesPerBlock
	root.Encode(ib[slot*fsfmt.DinodeSize : (slot+1)*fsfmt.DinodeSize])
	if err := d.WriteBlock(rootBlk, ib[:]); err != nil {
		return err
	}

	var db [limits.BSIZE]byte
	var dot, dotdot fsfmt.Dirent
	dot.Inum = limits.ROOTINO
	copy(dot.Name[:], ".")
	dotdot.Inum = limits.ROOTINO
	copy(dotdot.Name[:], "..")
	dot.Encode(db[0:fsfmt.DirentSize])
	dotdot.Encode(db[fsfmt.DirentSize : 2*fsfmt.DirentSize])
	if err := d.WriteBlock(l.datastart, db[:]); err != nil {
		return err
	}

	var bb [limits.BSIZE]byte
	if err := d.ReadBlock(l.bmapstart, bb[:]); err != nil {
		return err
	}
	bb[0] |= 1 // data block 0 (absolute block l.datastart) is in use
	return d.WriteBlock(l.bmapstart, bb[:])
}

// addHostTree walks a host directory and copies its regular files and
// subdirectories into the freshly formatted image via the real
// internal/fs API (mounted, logged, same as the kernel would see it at
// runtime), mirroring the teacher's addfiles/copydata walk.
func addHostTree(image, hostDir string) error {
	disk, err := blockdev.OpenFileBlk(image, 0)
	if err != nil {
		return err
	}
	defer disk.Close()

	cache := bio.New()
	cache.AttachDisk(0, disk)
	fsys := rvfs.Mount(cache, 0)

	root := fsys.Root()
	return filepath.WalkDir(hostDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, hostDir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			return nil
		}

		fsys.Begin()
		defer fsys.End()

		if d.IsDir() {
			dir := fsys.Alloc(stat.T_DIR)
			dir.Lock()
			dir.Nlink = 1
			dir.Update()
			dir.Unlock()
			root.Lock()
			e := root.DirLink(ustr.Ustr(rel), dir.Inum())
			root.Unlock()
			if e != 0 {
				return fmt.Errorf("mkfs: DirLink dir %s: %v", rel, e)
			}
			fsys.Put(dir)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		file := fsys.Alloc(stat.T_FILE)
		file.Lock()
		file.Nlink = 1
		file.Update()
		if _, e := file.Write(content, 0, uint32(len(content))); e != 0 {
			file.Unlock()
			return fmt.Errorf("mkfs: write %s: %v", rel, e)
		}
		file.Unlock()
		root.Lock()
		e := root.DirLink(ustr.Ustr(rel), file.Inum())
		root.Unlock()
		if e != 0 {
			return fmt.Errorf("mkfs: DirLink file %s: %v", rel, e)
		}
		fsys.Put(file)
		return nil
	})
}

func main() {
	var (
		image   = flag.String("o", "fs.img", "output image path")
		nblocks = flag.Uint("nblocks", 40000, "data blocks")
		ninodes = flag.Uint("ninodes", 5000, "inode slots")
		skel    = flag.String("skel", "", "host directory to copy into the image root")
	)
	flag.Parse()

	l := newLayout(uint32(*ninodes), uint32(*nblocks))
	disk, err := blockdev.OpenFileBlk(*image, int64(l.totalBlks)*limits.BSIZE)
	if err != nil {
		log.Fatalf("mkfs: %v", err)
	}

	if err := zeroRegion(disk, 0, l.totalBlks); err != nil {
		log.Fatalf("mkfs: zero image: %v", err)
	}
	if err := writeSuperblock(disk, l); err != nil {
		log.Fatalf("mkfs: superblock: %v", err)
	}
	if err := seedRoot(disk, l); err != nil {
		log.Fatalf("mkfs: seed root: %v", err)
	}
	disk.Close()

	if *skel != "" {
		if err := addHostTree(*image, *skel); err != nil {
			log.Fatalf("mkfs: add host tree: %v", err)
		}
	}

	fmt.Printf("mkfs: wrote %s (%d blocks, %d inodes)\n", *image, l.totalBlks, l.ninodes)
}
