// Package fs implements the inode and pathname layer: a
// fixed-size in-memory inode cache backed by on-disk inode blocks, a
// free-block bitmap, directories as a flat array of (name, inum)
// entries inside a regular-sized file, and path resolution.
//
// Every mutating entry point here assumes the caller has already
// called log.Begin — this package never begins or ends a transaction
// itself, matching the the design "must be called inside a transaction"
// notes on Put/Update/alloc/balloc/bfree.
//
// Grounded on the teacher's fs.Superblock_t field-layout convention
// (generalized here via internal/fsfmt's encoding/binary codec instead
// of raw word indexing) and on xv6-rust's original_source inode/dir
// module for the in-memory icache-plus-disk-backing split this package
// didn't have a direct teacher analogue for.
package fs

import (
	"rvkernel/internal/bio"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	"rvkernel/internal/log"
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
	"rvkernel/internal/stat"
)

// FS is one mounted filesystem: the superblock geometry, the shared
// buffer cache and log it rides on, and the in-memory inode table.
type FS struct {
	cache *bio.Cache
	log   *log.Log
	dev   uint32
	sb    fsfmt.Superblock

	iLock  spinlock.Lock_t
	inodes [limits.NINODE]*Inode
}

// Inode is an in-memory inode table entry. Its ref is a table-level
// reference count guarded by FS.iLock; its content (the disk-backed
// fields and data) is guarded by the sleeplock, acquired via Lock and
// populated from disk on first access.
type Inode struct {
	mu    sleeplock.Lock_t
	fsys  *FS
	dev   uint32
	inum  uint32
	ref   int
	valid bool

	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [limits.NDIRECT + 1]uint32
}

// Mount reads the superblock of dev (already formatted, at logical
// block 1) and builds an FS descriptor over it. Recovers the log
// before returning so every subsequent call sees a clean disk.
func Mount(cache *bio.Cache, dev uint32) *FS {
	b := cache.Get(dev, 1)
	cache.Read(b)
	sb := fsfmt.DecodeSuperblock(b.Data[:fsfmt.SuperblockSize])
	cache.Release(b)

	l := log.New(cache, dev, sb.Logstart, sb.Nlog)
	l.Recover()

	return &FS{cache: cache, log: l, dev: dev, sb: sb}
}

// Begin and End bracket a filesystem transaction; callers
// performing any mutating fs operation must wrap it in Begin/End.
func (fsys *FS) Begin() { fsys.log.Begin() }
func (fsys *FS) End()   { fsys.log.End() }

func (fsys *FS) inodeBlock(inum uint32) uint32 {
	return fsys.sb.Inodestart + inum/uint32(fsfmt.InodesPerBlock)
}

// iget finds or creates an in-memory table slot for (dev, inum),
// incrementing its reference count, without reading its content from
// disk. Panics if the table is exhausted — an inode
// leak is a programmer error, never a recoverable condition.
func (fsys *FS) iget(inum uint32) *Inode {
	fsys.iLock.Acquire()
	defer fsys.iLock.Release()

	var free *Inode
	for _, ip := range fsys.inodes {
		if ip == nil {
			continue
		}
		if ip.ref > 0 && ip.dev == fsys.dev && ip.inum == inum {
			ip.ref++
			return ip
		}
	}
	for i, ip := range fsys.inodes {
		if ip == nil {
			free = &Inode{mu: *sleeplock.Mk("inode"), fsys: fsys, dev: fsys.dev, inum: inum, ref: 1}
			fsys.inodes[i] = free
			return free
		}
		if ip.ref == 0 {
			free = ip
		}
	}
	if free == nil {
		panic("fs: inode table exhausted")
	}
	free.dev = fsys.dev
	free.inum = inum
	free.ref = 1
	free.valid = false
	return free
}

// Alloc scans disk inode slots for the first with type 0 and claims it
// for typ, writing the change through the log.
// Returns an unlocked, referenced in-memory inode.
func (fsys *FS) Alloc(typ int16) *Inode {
	for inum := uint32(1); inum < fsys.sb.Ninodes; inum++ {
		b := fsys.cache.Get(fsys.dev, fsys.inodeBlock(inum))
		fsys.cache.Read(b)
		off := (inum % uint32(fsfmt.InodesPerBlock)) * uint32(fsfmt.DinodeSize)
		d := fsfmt.DecodeDinode(b.Data[off : off+uint32(fsfmt.DinodeSize)])
		if d.Type == 0 {
			d = fsfmt.Dinode{Type: typ}
			d.Encode(b.Data[off : off+uint32(fsfmt.DinodeSize)])
			b.MarkDirty()
			fsys.log.LogWrite(b)
			fsys.cache.Release(b)
			return fsys.iget(inum)
		}
		fsys.cache.Release(b)
	}
	return nil
}

// Lock acquires the inode's sleeplock and, on first access, loads its
// disk-backed fields. Panics if the inode turns out to
// have type 0 on disk — referencing a freed inode is a programmer
// error.
func (ip *Inode) Lock() {
	ip.mu.Acquire()
	if !ip.valid {
		b := ip.fsys.cache.Get(ip.dev, ip.fsys.inodeBlock(ip.inum))
		ip.fsys.cache.Read(b)
		off := (ip.inum % uint32(fsfmt.InodesPerBlock)) * uint32(fsfmt.DinodeSize)
		d := fsfmt.DecodeDinode(b.Data[off : off+uint32(fsfmt.DinodeSize)])
		ip.fsys.cache.Release(b)
		if d.Type == 0 {
			panic("fs: Lock of freed inode")
		}
		ip.Type, ip.Major, ip.Minor, ip.Nlink, ip.Size, ip.Addrs = d.Type, d.Major, d.Minor, d.Nlink, d.Size, d.Addrs
		ip.valid = true
	}
}

// Unlock releases the inode's sleeplock.
func (ip *Inode) Unlock() { ip.mu.Release() }

// Put drops the in-memory reference to ip. If it reaches zero while the
// inode is valid and unlinked, the file's content is truncated and its
// on-disk type is zeroed, freeing the slot. Caller must
// be inside a transaction, since this may log-write.
func (fsys *FS) Put(ip *Inode) {
	fsys.iLock.Acquire()
	last := ip.ref == 1
	fsys.iLock.Release()

	ip.Lock()
	if last && ip.valid && ip.Nlink == 0 {
		ip.trunc()
		ip.Type = 0
		ip.update()
		ip.valid = false
	}
	ip.Unlock()

	fsys.iLock.Acquire()
	ip.ref--
	fsys.iLock.Release()
}

// UnlockPut is the common Unlock-then-Put pairing.
func (fsys *FS) UnlockPut(ip *Inode) {
	ip.Unlock()
	fsys.Put(ip)
}

// Dup increments ip's reference count and returns ip, mirroring fork's
// need to share an open inode between processes without copying it.
func (fsys *FS) Dup(ip *Inode) *Inode {
	fsys.iLock.Acquire()
	ip.ref++
	fsys.iLock.Release()
	return ip
}

// update flushes ip's in-memory disk-backed fields through the log
//. Caller must hold ip's lock and be inside a
// transaction.
func (ip *Inode) update() {
	b := ip.fsys.cache.Get(ip.dev, ip.fsys.inodeBlock(ip.inum))
	ip.fsys.cache.Read(b)
	off := (ip.inum % uint32(fsfmt.InodesPerBlock)) * uint32(fsfmt.DinodeSize)
	d := fsfmt.Dinode{Type: ip.Type, Major: ip.Major, Minor: ip.Minor, Nlink: ip.Nlink, Size: ip.Size, Addrs: ip.Addrs}
	d.Encode(b.Data[off : off+uint32(fsfmt.DinodeSize)])
	b.MarkDirty()
	ip.fsys.log.LogWrite(b)
	ip.fsys.cache.Release(b)
}

// Update is the exported form of update, for callers (e.g. link/unlink
// syscall handlers) that mutate Nlink directly and must flush it.
func (ip *Inode) Update() { ip.update() }

// Inum, Dev, and Stat expose identity and metadata for the fstat
// syscall and directory bookkeeping.
func (ip *Inode) Inum() uint32 { return ip.inum }
func (ip *Inode) Dev() uint32  { return ip.dev }

func (ip *Inode) Stat(st *stat.Stat_t) {
	st.Wdev(uint(ip.dev))
	st.Wino(uint(ip.inum))
	st.Wmode(modeOf(ip.Type))
	st.Wnlink(int(ip.Nlink))
	st.Wsize(uint64(ip.Size))
}

func modeOf(t int16) uint {
	switch t {
	case stat.T_DIR:
		return stat.T_DIR
	case stat.T_DEV:
		return stat.T_DEV
	default:
		return stat.T_FILE
	}
}
