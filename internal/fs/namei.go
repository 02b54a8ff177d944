package fs

import (
	"rvkernel/internal/bpath"
	"rvkernel/internal/limits"
	"rvkernel/internal/stat"
	"rvkernel/internal/ustr"
)

// Root returns a referenced, unlocked handle to the root inode.
func (fsys *FS) Root() *Inode { return fsys.iget(limits.ROOTINO) }

// resolve walks path component by component starting from cwd (or the
// root, if the path is absolute), stopping one component short when
// parent is set.
func (fsys *FS) resolve(path ustr.Ustr, cwd *Inode, parent bool) (*Inode, ustr.Ustr) {
	var ip *Inode
	if path.IsAbsolute() {
		ip = fsys.Root()
	} else {
		ip = fsys.Dup(cwd)
	}

	for {
		elem, rest, ok := bpath.Skipelem(path)
		if !ok {
			break
		}
		path = rest

		ip.Lock()
		if ip.Type != stat.T_DIR {
			fsys.UnlockPut(ip)
			return nil, nil
		}
		if parent && len(rest) == 0 {
			ip.Unlock()
			return ip, elem
		}
		next, _ := ip.dirLookup(elem)
		if next == nil {
			fsys.UnlockPut(ip)
			return nil, nil
		}
		fsys.UnlockPut(ip)
		ip = next
	}
	if parent {
		fsys.Put(ip)
		return nil, nil
	}
	return ip, nil
}

// Namei resolves path to its inode, unlocked and referenced, or nil if
// any component is missing.
func (fsys *FS) Namei(path ustr.Ustr, cwd *Inode) *Inode {
	ip, _ := fsys.resolve(path, cwd, false)
	return ip
}

// NameiParent resolves all but the last component of path, returning
// the parent directory (unlocked, referenced) and the final component's
// name, or nil if an intermediate component is missing.
func (fsys *FS) NameiParent(path ustr.Ustr, cwd *Inode) (*Inode, ustr.Ustr) {
	return fsys.resolve(path, cwd, true)
}
