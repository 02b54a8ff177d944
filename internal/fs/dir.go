package fs

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	"rvkernel/internal/stat"
	"rvkernel/internal/ustr"
)

// dirLookup scans directory ip for an entry named name, returning the
// inode it references (unlocked, referenced) and the byte offset of
// the entry within ip. Caller must hold ip's
// lock and ip must be a directory.
func (ip *Inode) dirLookup(name ustr.Ustr) (*Inode, uint32) {
	if ip.Type != stat.T_DIR {
		panic("fs: dirLookup on non-directory")
	}
	var buf [fsfmt.DirentSize]byte
	for off := uint32(0); off < ip.Size; off += uint32(fsfmt.DirentSize) {
		if n, _ := ip.Read(buf[:], off, uint32(fsfmt.DirentSize)); n != uint32(fsfmt.DirentSize) {
			break
		}
		de := fsfmt.DecodeDirent(buf[:])
		if de.Inum == 0 {
			continue
		}
		if ustr.MkUstrSlice(de.Name[:]).Eq(name) {
			return ip.fsys.iget(uint32(de.Inum)), off
		}
	}
	return nil, 0
}

// dirLink adds an entry (name -> inum) to directory ip, reusing a free
// slot if one exists or appending otherwise. Fails if name is already
// present. Caller must hold ip's lock, ip must be a directory, and the
// caller must be inside a transaction.
func (ip *Inode) dirLink(name ustr.Ustr, inum uint32) defs.Err_t {
	if existing, _ := ip.dirLookup(name); existing != nil {
		ip.fsys.Put(existing)
		return -defs.EEXIST
	}

	var buf [fsfmt.DirentSize]byte
	var off uint32
	for off = 0; off < ip.Size; off += uint32(fsfmt.DirentSize) {
		if n, _ := ip.Read(buf[:], off, uint32(fsfmt.DirentSize)); n != uint32(fsfmt.DirentSize) {
			panic("fs: dirLink short read")
		}
		de := fsfmt.DecodeDirent(buf[:])
		if de.Inum == 0 {
			break
		}
	}

	if len(name) >= limits.DIRSIZ {
		return -defs.ENAMETOOLONG
	}
	var de fsfmt.Dirent
	de.Inum = uint16(inum)
	copy(de.Name[:], name)
	de.Encode(buf[:])
	if n, _ := ip.Write(buf[:], off, uint32(fsfmt.DirentSize)); n != uint32(fsfmt.DirentSize) {
		return -defs.ENOSPC
	}
	return 0
}

// dirUnlink clears the entry at byte offset off within directory ip,
// used by unlink after the caller has located the entry via dirLookup.
func (ip *Inode) dirUnlink(off uint32) {
	var zero [fsfmt.DirentSize]byte
	if n, _ := ip.Write(zero[:], off, uint32(fsfmt.DirentSize)); n != uint32(fsfmt.DirentSize) {
		panic("fs: dirUnlink short write")
	}
}

// IsDirEmpty reports whether directory ip has no entries besides "."
// and "..", required before unlink/rmdir removes it.
func (ip *Inode) IsDirEmpty() bool {
	var buf [fsfmt.DirentSize]byte
	for off := uint32(2 * fsfmt.DirentSize); off < ip.Size; off += uint32(fsfmt.DirentSize) {
		if n, _ := ip.Read(buf[:], off, uint32(fsfmt.DirentSize)); n != uint32(fsfmt.DirentSize) {
			panic("fs: IsDirEmpty short read")
		}
		de := fsfmt.DecodeDirent(buf[:])
		if de.Inum != 0 {
			return false
		}
	}
	return true
}

// DirLookup and DirLink are the exported entry points used by namei and
// the syscall layer.
func (ip *Inode) DirLookup(name ustr.Ustr) (*Inode, uint32) { return ip.dirLookup(name) }
func (ip *Inode) DirLink(name ustr.Ustr, inum uint32) defs.Err_t {
	return ip.dirLink(name, inum)
}
func (ip *Inode) DirUnlink(off uint32) { ip.dirUnlink(off) }
