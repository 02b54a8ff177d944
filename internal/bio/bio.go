// Package bio implements the buffer cache: a fixed pool of
// NBUF in-memory block buffers shared by every device, indexed by
// (dev, blockno), evicted least-recently-used, and serialized per-block
// by a sleeplock so a buffer is never read from disk twice concurrently.
//
// Grounded on the teacher's fs.Bdev_block_t / BlkList_t (container/list
// as the LRU chain, a Disk_i interface decoupling the cache from any
// particular block device), adapted from biscuit's refcounted
// objref-cache scheme to the simpler single-reference-per-Get model
// describes. The hashtable index is internal/hashtable,
// generalized from the teacher's own page-cache hashing so a cache
// lookup is O(1) instead of list.List's O(n) scan.
package bio

import (
	"container/list"
	"fmt"

	"rvkernel/internal/hashtable"
	"rvkernel/internal/limits"
	"rvkernel/internal/sleeplock"
	"rvkernel/internal/spinlock"
)

// Disk is the block device contract a buffer cache reads and writes
// through; the concrete implementation
// (virtio-blk, a host loopback file) is supplied by the caller.
type Disk interface {
	ReadBlock(blockno uint32, dst []byte) error
	WriteBlock(blockno uint32, src []byte) error
}

type key struct {
	dev     uint32
	blockno uint32
}

func hashKey(k key) uint64 {
	var b [8]byte
	b[0] = byte(k.dev)
	b[1] = byte(k.dev >> 8)
	b[2] = byte(k.dev >> 16)
	b[3] = byte(k.dev >> 24)
	b[4] = byte(k.blockno)
	b[5] = byte(k.blockno >> 8)
	b[6] = byte(k.blockno >> 16)
	b[7] = byte(k.blockno >> 24)
	return hashtable.FNV64(b[:])
}

// Buf is one cached disk block. Its sleeplock must be held to read or
// write Data; callers acquire it via Cache.Get/Read and release it via
// Cache.Release.
type Buf struct {
	mu      sleeplock.Lock_t
	dev     uint32
	blockno uint32
	valid   bool
	dirty   bool
	refcnt  int
	Data    [limits.BSIZE]byte

	elem *list.Element // position in the cache's LRU list
}

func newBuf() *Buf {
	return &Buf{mu: *sleeplock.Mk("buf")}
}

// Cache is the fixed-size buffer cache. One exists per kernel instance;
// every filesystem and log operation goes through it rather than
// talking to a Disk directly.
type Cache struct {
	lock  spinlock.Lock_t
	disks map[uint32]Disk
	lru   *list.List // most-recently-used at Back
	index *hashtable.Table[key, *list.Element]
	nbuf  int
}

// New creates an empty cache with room for limits.NBUF blocks.
func New() *Cache {
	return &Cache{
		disks: make(map[uint32]Disk),
		lru:   list.New(),
		index: hashtable.New[key, *list.Element](hashKey),
	}
}

// AttachDisk registers the Disk backing device number dev. Every block
// cached under that device number is read from and written through d.
func (c *Cache) AttachDisk(dev uint32, d Disk) {
	c.lock.Acquire()
	defer c.lock.Release()
	c.disks[dev] = d
}

// Get returns the buffer for (dev, blockno), allocating and evicting an
// LRU victim if it is not already cached. The returned buffer's
// sleeplock is held by the caller and must be released with Release.
// The buffer's Data is not guaranteed valid; call Read to fault it in.
func (c *Cache) Get(dev, blockno uint32) *Buf {
	c.lock.Acquire()
	k := key{dev, blockno}
	if e, ok := c.index.Get(k); ok {
		b := e.Value.(*Buf)
		b.refcnt++
		c.lru.MoveToBack(e)
		c.lock.Release()
		b.mu.Acquire()
		return b
	}

	var b *Buf
	if c.nbuf < limits.NBUF {
		b = newBuf()
		c.nbuf++
	} else {
		b = c.evictLocked()
	}
	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.dirty = false
	b.refcnt = 1
	e := c.lru.PushBack(b)
	b.elem = e
	c.index.Set(k, e)
	c.lock.Release()

	b.mu.Acquire()
	return b
}

// evictLocked finds the least-recently-used buffer with no outstanding
// reference and reuses it. Panics if every buffer is pinned, mirroring
// the teacher's refusal to silently block the caller.
func (c *Cache) evictLocked() *Buf {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buf)
		if b.refcnt == 0 {
			c.lru.Remove(e)
			c.index.Del(key{b.dev, b.blockno})
			return b
		}
	}
	panic("bio: no free buffers")
}

// Read ensures buf's Data reflects the on-disk contents, faulting it in
// from the device on first access. Caller must hold buf's sleeplock
// (i.e. must have obtained buf via Get).
func (c *Cache) Read(buf *Buf) error {
	buf.mu.AssertHeld()
	if buf.valid {
		return nil
	}
	d, ok := c.disks[buf.dev]
	if !ok {
		return fmt.Errorf("bio: no disk attached for dev %d", buf.dev)
	}
	if err := d.ReadBlock(buf.blockno, buf.Data[:]); err != nil {
		return err
	}
	buf.valid = true
	return nil
}

// Write marks buf dirty and immediately pushes it to its device — this
// cache has no background flush daemon; log decides when a
// dirty block is safe to write back.
func (c *Cache) Write(buf *Buf) error {
	buf.mu.AssertHeld()
	d, ok := c.disks[buf.dev]
	if !ok {
		return fmt.Errorf("bio: no disk attached for dev %d", buf.dev)
	}
	if err := d.WriteBlock(buf.blockno, buf.Data[:]); err != nil {
		return err
	}
	buf.dirty = false
	return nil
}

// MarkDirty records that buf's Data has been modified in memory without
// writing it back yet (used by the log so commit controls write order).
func (b *Buf) MarkDirty() { b.dirty = true }

// Dirty reports whether buf has in-memory changes not yet on disk.
func (b *Buf) Dirty() bool { return b.dirty }

// Dev and Blockno identify which disk block buf caches.
func (b *Buf) Dev() uint32     { return b.dev }
func (b *Buf) Blockno() uint32 { return b.blockno }

// Pin keeps buf present regardless of LRU pressure; used by the log to
// hold each logged block's buffer resident until its transaction commits.
func (c *Cache) Pin(buf *Buf) {
	c.lock.Acquire()
	buf.refcnt++
	c.lock.Release()
}

// Release drops the caller's reference to buf and releases its
// sleeplock. Once refcnt reaches zero the buffer becomes eligible for
// LRU eviction, but it stays indexed (and its data valid) until then.
func (c *Cache) Release(buf *Buf) {
	buf.mu.AssertHeld()
	buf.mu.Release()
	c.lock.Acquire()
	buf.refcnt--
	if buf.refcnt < 0 {
		panic("bio: over-released buffer")
	}
	if buf.refcnt == 0 {
		c.lru.MoveToBack(buf.elem)
	}
	c.lock.Release()
}
