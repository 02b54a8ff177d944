package trap

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
	"rvkernel/internal/proc"
	"rvkernel/internal/syscall"
	"rvkernel/internal/vm"
)

// maxArgv bounds how many argv pointers Dispatch will walk for exec,
// mirroring xv6's MAXARG.
const maxArgv = 32

// Dispatch maps a decoded syscall number to its handler on sys. This
// is the part of usertrap's syscall branch that a real kernel's
// syscall.c performs via a function-pointer table indexed by a0;
// here it's a plain switch over the same xv6 syscall numbering
// internal/syscall defines.
//
// SysFork has no case: a real fork duplicates the trapframe so both
// parent and child resume past the same ecall instruction, but this
// kernel's processes are Go closures standing in for user code rather
// than interpreted instructions, so there is no trapframe to duplicate
// and no generic continuation to hand the child. Code that wants fork
// semantics calls proc.Table.Fork directly with an explicit child
// body; Dispatch can't synthesize one from a bare syscall number.
func Dispatch(sys *syscall.Sys, p *proc.Proc, num uint64, a syscall.Args) (uint64, defs.Err_t) {
	switch num {
	case syscall.SysExit:
		return sys.Exit(p, a)
	case syscall.SysWait:
		return sys.Wait(p, a)
	case syscall.SysPipe:
		return sys.Pipe(p, a)
	case syscall.SysRead:
		return sys.Read(p, a)
	case syscall.SysKill:
		return sys.Kill(p, a)
	case syscall.SysExec:
		argv, err := fetchArgv(a.Space, a.A[1])
		if err != 0 {
			return 0, err
		}
		return sys.Exec(p, a, argv)
	case syscall.SysFstat:
		return sys.Fstat(p, a)
	case syscall.SysChdir:
		return sys.Chdir(p, a)
	case syscall.SysDup:
		return sys.Dup(p, a)
	case syscall.SysGetpid:
		return sys.Getpid(p, a)
	case syscall.SysSbrk:
		return sys.Sbrk(p, a)
	case syscall.SysSleep:
		return sys.Sleep(p, a)
	case syscall.SysUptime:
		return sys.Uptime(p, a)
	case syscall.SysOpen:
		return sys.Open(p, a)
	case syscall.SysWrite:
		return sys.Write(p, a)
	case syscall.SysMknod:
		return sys.Mknod(p, a)
	case syscall.SysUnlink:
		return sys.Unlink(p, a)
	case syscall.SysLink:
		return sys.Link(p, a)
	case syscall.SysMkdir:
		return sys.Mkdir(p, a)
	case syscall.SysClose:
		return sys.Close(p, a)
	default:
		p.Killed = true
		return 0, -defs.EINVAL
	}
}

// fetchArgv walks the NUL-terminated array of user pointers at uva,
// copying each pointed-to string in, mirroring sys_exec's argv loop in
// sysfile.c (fetchaddr then fetchstr per entry, bailing out past
// MAXARG).
func fetchArgv(sp *vm.Space, uva uint64) ([]string, defs.Err_t) {
	var argv []string
	for i := 0; i < maxArgv; i++ {
		var ptrBuf [8]byte
		if err := sp.CopyIn(ptrBuf[:], uintptr(uva)+uintptr(8*i)); err != 0 {
			return nil, err
		}
		ptr := leU64(ptrBuf[:])
		if ptr == 0 {
			return argv, 0
		}
		buf := make([]byte, limits.PGSIZE)
		n, err := sp.CopyInStr(buf, uintptr(ptr), len(buf))
		if err != 0 {
			return nil, err
		}
		argv = append(argv, string(buf[:n]))
	}
	return nil, -defs.EINVAL
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
