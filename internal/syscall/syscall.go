// Package syscall implements the handler table a trap into supervisor
// mode for an ecall eventually dispatches to: fork/exit/wait/kill,
// getpid/sbrk/sleep/uptime, and the file and directory operations
// (open/close/dup/read/write/fstat/pipe/link/unlink/mkdir/mknod/chdir/
// exec). Each handler receives its arguments already fetched from user
// registers — this kernel's trap path hands off a plain Args value
// rather than a raw trapframe, since kernel-mode process code here runs
// as a Go goroutine rather than under real RISC-V instruction fetch.
//
// Grounded on xv6/original_source's sysproc.c and sysfile.c split
// (syscalls that only touch the process table vs. ones that touch the
// filesystem), adapted to this kernel's proc/file/fs package boundaries
// instead of xv6's monolithic kernel translation unit.
package syscall

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/exec"
	"rvkernel/internal/file"
	"rvkernel/internal/fs"
	"rvkernel/internal/limits"
	"rvkernel/internal/proc"
	"rvkernel/internal/stat"
	"rvkernel/internal/ustr"
	"rvkernel/internal/vm"
)

// Syscall numbers, in the order xv6's syscall.h assigns them.
const (
	SysFork = iota + 1
	SysExit
	SysWait
	SysPipe
	SysRead
	SysKill
	SysExec
	SysFstat
	SysChdir
	SysDup
	SysGetpid
	SysSbrk
	SysSleep
	SysUptime
	SysOpen
	SysWrite
	SysMknod
	SysUnlink
	SysLink
	SysMkdir
	SysClose
)

// Open flags, matching xv6's kernel/fcntl.h.
const (
	ORdonly = 0x000
	OWronly = 0x001
	ORdwr   = 0x002
	OCreate = 0x200
)

// Args carries a syscall's arguments exactly as a trapframe's a0..a5
// would, plus the calling process's Space for any pointer arguments.
type Args struct {
	A     [6]uint64
	Space *vm.Space
}

// Sys bundles the process table every handler dispatches against.
type Sys struct {
	Table *proc.Table
}

func (s *Sys) fsys() *fs.FS { return s.Table.Fsys() }

func fetchPath(sp *vm.Space, uva uint64) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, limits.DIRSIZ*8)
	n, err := sp.CopyInStr(buf, uintptr(uva), len(buf))
	if err != 0 {
		return nil, err
	}
	return ustr.Ustr(buf[:n]), 0
}

// allocFd installs f into p's lowest free descriptor slot.
func allocFd(p *proc.Proc, f *file.File) (int, defs.Err_t) {
	for i, existing := range p.Files {
		if existing == nil {
			p.Files[i] = f
			return i, 0
		}
	}
	return 0, -defs.ENOMEM // EMFILE has no dedicated constant in this kernel's errno set
}

func getFd(p *proc.Proc, fd int) (*file.File, defs.Err_t) {
	if fd < 0 || fd >= limits.NOFILE || p.Files[fd] == nil {
		return nil, -defs.EBADF
	}
	return p.Files[fd], 0
}

// create implements xv6's sysfile.c create(): resolves path's parent
// directory, and either returns an already-existing plain file/device
// (so O_CREATE on an existing file behaves like a plain open) or
// allocates a fresh inode of typ, links it into the parent, and —
// for directories — seeds "." and ".." and bumps the parent's Nlink
// for the new "..". Caller must already be inside a transaction.
func create(fsys *fs.FS, cwd *fs.Inode, path ustr.Ustr, typ int16, major, minor int16) (*fs.Inode, defs.Err_t) {
	dir, name := fsys.NameiParent(path, cwd)
	if dir == nil {
		return nil, -defs.ENOENT
	}
	dir.Lock()

	if existing, _ := dir.DirLookup(name); existing != nil {
		fsys.UnlockPut(dir)
		existing.Lock()
		if typ == stat.T_FILE && (existing.Type == stat.T_FILE || existing.Type == stat.T_DEV) {
			return existing, 0
		}
		fsys.UnlockPut(existing)
		return nil, -defs.EEXIST
	}

	ip := fsys.Alloc(typ)
	if ip == nil {
		fsys.UnlockPut(dir)
		return nil, -defs.ENOSPC
	}
	ip.Lock()
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ip.Update()

	if typ == stat.T_DIR {
		dir.Nlink++
		dir.Update()
		if err := ip.DirLink(ustr.Ustr("."), ip.Inum()); err != 0 {
			fsys.UnlockPut(ip)
			fsys.UnlockPut(dir)
			return nil, err
		}
		if err := ip.DirLink(ustr.Ustr(".."), dir.Inum()); err != 0 {
			fsys.UnlockPut(ip)
			fsys.UnlockPut(dir)
			return nil, err
		}
	}

	if err := dir.DirLink(name, ip.Inum()); err != 0 {
		fsys.UnlockPut(ip)
		fsys.UnlockPut(dir)
		return nil, err
	}
	fsys.UnlockPut(dir)
	return ip, 0
}

// Exit implements exit(status).
func (s *Sys) Exit(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	s.Table.Exit(p, int(int32(a.A[0])))
	panic("syscall: Exit: unreachable, Table.Exit never returns to its caller")
}

// Wait implements wait(&status), copying the exited child's status out
// to user memory if statusAddr is non-null.
func (s *Sys) Wait(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	pid, status, err := s.Table.Wait(p)
	if err != 0 {
		return 0, err
	}
	if a.A[0] != 0 {
		var buf [4]byte
		putLe32(buf[:], uint32(int32(status)))
		if werr := a.Space.CopyOut(uintptr(a.A[0]), buf[:]); werr != 0 {
			return 0, werr
		}
	}
	return uint64(pid), 0
}

// Kill implements kill(pid).
func (s *Sys) Kill(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	err := s.Table.Kill(defs.Pid_t(int32(a.A[0])))
	return 0, err
}

// Getpid implements getpid().
func (s *Sys) Getpid(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	return uint64(p.Pid), 0
}

// Sbrk implements sbrk(n): grows or shrinks the calling process's heap
// by n bytes (n may be negative) and returns the address of the
// previous break.
func (s *Sys) Sbrk(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	old := p.Space.Sz
	n := int64(int32(a.A[0]))
	if n >= 0 {
		if _, err := p.Space.Grow(old, old+uintptr(n), vm.PTE_W|vm.PTE_R); err != 0 {
			return 0, err
		}
	} else {
		newSz := uintptr(0)
		if uintptr(-n) < old {
			newSz = old - uintptr(-n)
		}
		p.Space.Shrink(old, newSz)
	}
	return uint64(old), 0
}

// Sleep implements sleep(ticks): a process-table-level handler because
// this kernel has no timer-interrupt collaborator to hang a dedicated
// sleep queue off of; it blocks the calling goroutine directly rather
// than yielding to the scheduler N times.
func (s *Sys) Sleep(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	ticks := a.A[0]
	s.Table.SleepTicks(p, ticks)
	return 0, 0
}

// Uptime implements uptime().
func (s *Sys) Uptime(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	return s.Table.Uptime(), 0
}

// Dup implements dup(fd).
func (s *Sys) Dup(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	f, err := getFd(p, int(int32(a.A[0])))
	if err != 0 {
		return 0, err
	}
	fd, ferr := allocFd(p, file.Dup(f))
	if ferr != 0 {
		return 0, ferr
	}
	return uint64(fd), 0
}

// Read implements read(fd, buf, n).
func (s *Sys) Read(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	f, err := getFd(p, int(int32(a.A[0])))
	if err != 0 {
		return 0, err
	}
	n := int(int32(a.A[2]))
	buf := make([]byte, n)
	got, rerr := file.Read(f, buf)
	if rerr != 0 {
		return 0, rerr
	}
	if werr := a.Space.CopyOut(uintptr(a.A[1]), buf[:got]); werr != 0 {
		return 0, werr
	}
	return uint64(got), 0
}

// Write implements write(fd, buf, n).
func (s *Sys) Write(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	f, err := getFd(p, int(int32(a.A[0])))
	if err != 0 {
		return 0, err
	}
	n := int(int32(a.A[2]))
	buf := make([]byte, n)
	if rerr := a.Space.CopyIn(buf, uintptr(a.A[1])); rerr != 0 {
		return 0, rerr
	}
	put, werr := file.Write(f, buf)
	if werr != 0 {
		return 0, werr
	}
	return uint64(put), 0
}

// Close implements close(fd).
func (s *Sys) Close(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	fd := int(int32(a.A[0]))
	f, err := getFd(p, fd)
	if err != 0 {
		return 0, err
	}
	p.Files[fd] = nil
	file.Close(s.fsys(), f)
	return 0, 0
}

// Fstat implements fstat(fd, &st).
func (s *Sys) Fstat(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	f, err := getFd(p, int(int32(a.A[0])))
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if serr := file.Stat(f, &st); serr != 0 {
		return 0, serr
	}
	if werr := a.Space.CopyOut(uintptr(a.A[1]), st.Bytes()); werr != 0 {
		return 0, werr
	}
	return 0, 0
}

// Open implements open(path, flags), creating the file if O_CREATE is
// set and it doesn't already exist.
func (s *Sys) Open(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	flags := int(int32(a.A[1]))
	fsys := s.fsys()

	fsys.Begin()
	defer fsys.End()

	var ip *fs.Inode
	if flags&OCreate != 0 {
		var cerr defs.Err_t
		ip, cerr = create(fsys, p.Cwd, path, stat.T_FILE, 0, 0)
		if cerr != 0 {
			return 0, cerr
		}
	} else {
		ip = fsys.Namei(path, p.Cwd)
		if ip == nil {
			return 0, -defs.ENOENT
		}
		ip.Lock()
	}
	defer ip.Unlock()

	f := s.Table.Files().Alloc()
	if f == nil {
		fsys.UnlockPut(ip)
		return 0, -defs.ENOMEM
	}
	readable := flags&OWronly == 0
	writable := flags&OWronly != 0 || flags&ORdwr != 0
	f.InitInode(ip, readable, writable)

	fd, ferr := allocFd(p, f)
	if ferr != 0 {
		file.Close(fsys, f)
		return 0, ferr
	}
	return uint64(fd), 0
}

// Mkdir implements mkdir(path).
func (s *Sys) Mkdir(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	fsys := s.fsys()
	fsys.Begin()
	defer fsys.End()
	ip, err := create(fsys, p.Cwd, path, stat.T_DIR, 0, 0)
	if err != 0 {
		return 0, err
	}
	fsys.UnlockPut(ip)
	return 0, 0
}

// Mknod implements mknod(path, major, minor).
func (s *Sys) Mknod(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	fsys := s.fsys()
	fsys.Begin()
	defer fsys.End()
	ip, err := create(fsys, p.Cwd, path, stat.T_DEV, int16(int32(a.A[1])), int16(int32(a.A[2])))
	if err != 0 {
		return 0, err
	}
	fsys.UnlockPut(ip)
	return 0, 0
}

// Unlink implements unlink(path).
func (s *Sys) Unlink(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	fsys := s.fsys()
	fsys.Begin()
	defer fsys.End()

	dir, name := fsys.NameiParent(path, p.Cwd)
	if dir == nil {
		return 0, -defs.ENOENT
	}
	dir.Lock()
	defer fsys.UnlockPut(dir)

	ip, off := dir.DirLookup(name)
	if ip == nil {
		return 0, -defs.ENOENT
	}
	ip.Lock()
	defer fsys.UnlockPut(ip)
	if ip.Type == stat.T_DIR && !ip.IsDirEmpty() {
		return 0, -defs.ENOTEMPTY
	}
	dir.DirUnlink(off)
	ip.Nlink--
	ip.Update()
	return 0, 0
}

// Link implements link(oldpath, newpath).
func (s *Sys) Link(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	oldpath, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	newpath, perr2 := fetchPath(a.Space, a.A[1])
	if perr2 != 0 {
		return 0, perr2
	}
	fsys := s.fsys()
	fsys.Begin()
	defer fsys.End()

	ip := fsys.Namei(oldpath, p.Cwd)
	if ip == nil {
		return 0, -defs.ENOENT
	}
	ip.Lock()
	if ip.Type == stat.T_DIR {
		fsys.UnlockPut(ip)
		return 0, -defs.EPERM
	}
	ip.Nlink++
	ip.Update()
	ip.Unlock()

	dir, name := fsys.NameiParent(newpath, p.Cwd)
	if dir == nil {
		undoLink(fsys, ip)
		return 0, -defs.ENOENT
	}
	dir.Lock()
	err := dir.DirLink(name, ip.Inum())
	fsys.UnlockPut(dir)
	if err != 0 {
		undoLink(fsys, ip)
		return 0, err
	}
	fsys.Put(ip)
	return 0, 0
}

// undoLink reverses the Nlink++ this handler speculatively applied
// before discovering newpath couldn't be linked, since that bump was
// already flushed through the log and so must be undone the same way,
// then drops the reference Namei(oldpath) took out.
func undoLink(fsys *fs.FS, ip *fs.Inode) {
	ip.Lock()
	ip.Nlink--
	ip.Update()
	fsys.UnlockPut(ip)
}

// Chdir implements chdir(path).
func (s *Sys) Chdir(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	fsys := s.fsys()
	fsys.Begin()
	defer fsys.End()

	ip := fsys.Namei(path, p.Cwd)
	if ip == nil {
		return 0, -defs.ENOENT
	}
	ip.Lock()
	if ip.Type != stat.T_DIR {
		fsys.UnlockPut(ip)
		return 0, -defs.ENOTDIR
	}
	ip.Unlock()
	fsys.Put(p.Cwd)
	p.Cwd = ip
	return 0, 0
}

// Pipe implements pipe(fd[2]): allocates a pipe and its two file
// descriptors, writing them to the two-element array at addr.
func (s *Sys) Pipe(p *proc.Proc, a Args) (uint64, defs.Err_t) {
	files := s.Table.Files()
	rf := files.Alloc()
	if rf == nil {
		return 0, -defs.ENOMEM
	}
	wf := files.Alloc()
	if wf == nil {
		file.Close(nil, rf)
		return 0, -defs.ENOMEM
	}
	pipe := file.NewPipe()
	rf.InitPipe(pipe, false)
	wf.InitPipe(pipe, true)

	rfd, err1 := allocFd(p, rf)
	if err1 != 0 {
		file.Close(nil, rf)
		file.Close(nil, wf)
		return 0, err1
	}
	wfd, err2 := allocFd(p, wf)
	if err2 != 0 {
		p.Files[rfd] = nil
		file.Close(nil, rf)
		file.Close(nil, wf)
		return 0, err2
	}
	var buf [8]byte
	putLe32(buf[0:], uint32(rfd))
	putLe32(buf[4:], uint32(wfd))
	if werr := a.Space.CopyOut(uintptr(a.A[0]), buf[:]); werr != 0 {
		return 0, werr
	}
	return 0, 0
}

// Exec implements exec(path, argv): replaces the calling process's
// address space in place with the named binary's, freeing the old one
// only once the new one has been built successfully.
func (s *Sys) Exec(p *proc.Proc, a Args, argv []string) (uint64, defs.Err_t) {
	path, perr := fetchPath(a.Space, a.A[0])
	if perr != 0 {
		return 0, perr
	}
	res, lerr := exec.Load(s.fsys(), s.Table.PhysAlloc(), p.Cwd, path, argv)
	if lerr != 0 {
		return 0, lerr
	}
	old := p.Space
	p.Space = res.Space
	old.Free()
	return uint64(res.Argc), 0
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
