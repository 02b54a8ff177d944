package fs

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
)

// bmap returns the disk block number holding the bn'th block of ip's
// content, allocating it (direct or through the single indirect block)
// on first reference. Caller must hold ip's lock and be inside a
// transaction.
func (ip *Inode) bmap(bn uint32) uint32 {
	fsys := ip.fsys
	if bn < limits.NDIRECT {
		if ip.Addrs[bn] == 0 {
			ip.Addrs[bn] = fsys.balloc()
		}
		return ip.Addrs[bn]
	}
	bn -= limits.NDIRECT
	if bn >= limits.NINDIRECT {
		panic("fs: block index out of range")
	}
	if ip.Addrs[limits.NDIRECT] == 0 {
		ip.Addrs[limits.NDIRECT] = fsys.balloc()
	}
	ib := fsys.cache.Get(ip.dev, ip.Addrs[limits.NDIRECT])
	fsys.cache.Read(ib)
	off := bn * 4
	addr := leU32(ib.Data[off : off+4])
	if addr == 0 {
		addr = fsys.balloc()
		putLeU32(ib.Data[off:off+4], addr)
		ib.MarkDirty()
		fsys.log.LogWrite(ib)
	}
	fsys.cache.Release(ib)
	return addr
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// trunc frees every data block owned by ip (direct, indirect, and the
// indirect block itself) and resets Size to 0. Caller must hold ip's
// lock and be inside a transaction.
func (ip *Inode) trunc() {
	fsys := ip.fsys
	for i := 0; i < limits.NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			fsys.bfree(ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[limits.NDIRECT] != 0 {
		ib := fsys.cache.Get(ip.dev, ip.Addrs[limits.NDIRECT])
		fsys.cache.Read(ib)
		for i := 0; i < limits.NINDIRECT; i++ {
			addr := leU32(ib.Data[i*4 : i*4+4])
			if addr != 0 {
				fsys.bfree(addr)
			}
		}
		fsys.cache.Release(ib)
		fsys.bfree(ip.Addrs[limits.NDIRECT])
		ip.Addrs[limits.NDIRECT] = 0
	}
	ip.Size = 0
	ip.update()
}

// Read copies n bytes of ip's content starting at off into dst,
// short-reading at EOF. Caller must hold ip's lock.
func (ip *Inode) Read(dst []byte, off, n uint32) (uint32, defs.Err_t) {
	if off > ip.Size {
		return 0, 0
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}
	var got uint32
	for got < n {
		bn := (off + got) / limits.BSIZE
		boff := (off + got) % limits.BSIZE
		blockno := ip.bmap(bn)
		if blockno == 0 {
			break
		}
		b := ip.fsys.cache.Get(ip.dev, blockno)
		ip.fsys.cache.Read(b)
		chunk := uint32(copy(dst[got:n], b.Data[boff:]))
		ip.fsys.cache.Release(b)
		got += chunk
	}
	return got, 0
}

// Write copies src into ip's content starting at off, growing the file
// and allocating blocks as needed, failing past MAXFILE*BSIZE.
// Caller must hold ip's lock, be inside a transaction, and
// every touched block is recorded via log_write. On success, flushes
// the updated Size through Update.
func (ip *Inode) Write(src []byte, off, n uint32) (uint32, defs.Err_t) {
	if off+n < off {
		return 0, -defs.EINVAL
	}
	if off+n > limits.MAXFILE*limits.BSIZE {
		return 0, -defs.EFBIG
	}
	var put uint32
	for put < n {
		bn := (off + put) / limits.BSIZE
		boff := (off + put) % limits.BSIZE
		blockno := ip.bmap(bn)
		b := ip.fsys.cache.Get(ip.dev, blockno)
		ip.fsys.cache.Read(b)
		chunk := copy(b.Data[boff:], src[put:n])
		b.MarkDirty()
		ip.fsys.log.LogWrite(b)
		ip.fsys.cache.Release(b)
		put += uint32(chunk)
	}
	if off+put > ip.Size {
		ip.Size = off + put
	}
	ip.update()
	return put, 0
}
