// Package stat mirrors the on-the-wire layout of the fstat(2) result
// struct, matching the teacher's own unsafe-pointer field-accessor style
// (stat.Stat_t) rather than a tagged/reflected encoding.
package stat

import "unsafe"

// File type values, stored in an on-disk inode's Type field and echoed in
// Stat_t.Mode's low bits.
const (
	T_DIR     = 1
	T_FILE    = 2
	T_DEV     = 3
)

// Stat_t mirrors a file's stat information as copied to user space by the
// fstat syscall. Fields are unexported; callers use the W*/accessor
// methods so that the struct's on-wire layout (and size) stays the single
// source of truth for Bytes.
type Stat_t struct {
	dev   uint32
	ino   uint32
	mode  uint16
	nlink uint16
	size  uint64
}

func (st *Stat_t) Wdev(v uint)    { st.dev = uint32(v) }
func (st *Stat_t) Wino(v uint)    { st.ino = uint32(v) }
func (st *Stat_t) Wmode(v uint)   { st.mode = uint16(v) }
func (st *Stat_t) Wnlink(v int)   { st.nlink = uint16(v) }
func (st *Stat_t) Wsize(v uint64) { st.size = v }

func (st *Stat_t) Mode() uint   { return uint(st.mode) }
func (st *Stat_t) Size() uint64 { return st.size }
func (st *Stat_t) Ino() uint    { return uint(st.ino) }
func (st *Stat_t) Nlink() int   { return int(st.nlink) }

// Bytes exposes the struct's raw, packed byte representation for copying
// into user memory via copy_out.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
