package fs

import "rvkernel/internal/limits"

// dataStart returns the block number of the first data block: the
// bitmap region occupies ceil(nblocks / (BSIZE*8)) blocks starting at
// Bmapstart, and data blocks follow immediately after.
func (fsys *FS) dataStart() uint32 {
	bitmapBlocks := (fsys.sb.Nblocks + limits.BSIZE*8 - 1) / (limits.BSIZE * 8)
	return fsys.sb.Bmapstart + bitmapBlocks
}

// balloc scans the free-block bitmap linearly for a clear bit, sets it
// through the log, zeroes the freshly allocated block, and returns its
// block number. Caller must be inside a
// transaction.
func (fsys *FS) balloc() uint32 {
	start := fsys.dataStart()
	for b := uint32(0); b < fsys.sb.Nblocks; b++ {
		bitblock := fsys.sb.Bmapstart + b/(limits.BSIZE*8)
		buf := fsys.cache.Get(fsys.dev, bitblock)
		fsys.cache.Read(buf)
		byteIdx := (b % (limits.BSIZE * 8)) / 8
		mask := byte(1 << (b % 8))
		if buf.Data[byteIdx]&mask == 0 {
			buf.Data[byteIdx] |= mask
			buf.MarkDirty()
			fsys.log.LogWrite(buf)
			fsys.cache.Release(buf)

			blockno := start + b
			zb := fsys.cache.Get(fsys.dev, blockno)
			fsys.cache.Read(zb)
			for i := range zb.Data {
				zb.Data[i] = 0
			}
			zb.MarkDirty()
			fsys.log.LogWrite(zb)
			fsys.cache.Release(zb)
			return blockno
		}
		fsys.cache.Release(buf)
	}
	return 0
}

// bfree clears the bitmap bit for blockno. Freeing an already-free
// block is a programmer error and panics.
func (fsys *FS) bfree(blockno uint32) {
	b := blockno - fsys.dataStart()
	bitblock := fsys.sb.Bmapstart + b/(limits.BSIZE*8)
	buf := fsys.cache.Get(fsys.dev, bitblock)
	fsys.cache.Read(buf)
	byteIdx := (b % (limits.BSIZE * 8)) / 8
	mask := byte(1 << (b % 8))
	if buf.Data[byteIdx]&mask == 0 {
		panic("fs: double free of data block")
	}
	buf.Data[byteIdx] &^= mask
	buf.MarkDirty()
	fsys.log.LogWrite(buf)
	fsys.cache.Release(buf)
}
