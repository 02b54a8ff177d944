package vm

import (
	"rvkernel/internal/defs"
	"rvkernel/internal/limits"
)

// pageSlice returns the backing bytes of the user frame mapping va,
// bounds-checked against the space's current size, or an error.
func (s *Space) pageSlice(va uintptr) ([]byte, defs.Err_t) {
	if va >= s.Sz {
		return nil, -defs.EFAULT
	}
	pa, ok := s.WalkAddr(util_rounddown(va))
	if !ok {
		return nil, -defs.EFAULT
	}
	return s.alloc.Bytes(pa), 0
}

// CopyOut copies src into user memory starting at uva (kernel -> user).
func (s *Space) CopyOut(uva uintptr, src []byte) defs.Err_t {
	for len(src) > 0 {
		frame, err := s.pageSlice(uva)
		if err != 0 {
			return err
		}
		off := uva % limits.PGSIZE
		n := copy(frame[off:], src)
		src = src[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyIn copies n bytes of user memory starting at uva into dst
// (user -> kernel).
func (s *Space) CopyIn(dst []byte, uva uintptr) defs.Err_t {
	for len(dst) > 0 {
		frame, err := s.pageSlice(uva)
		if err != 0 {
			return err
		}
		off := uva % limits.PGSIZE
		n := copy(dst, frame[off:])
		dst = dst[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyInStr copies a NUL-terminated string from user memory at uva into
// dst, stopping at the first NUL or when max bytes have been copied
// without finding one (in which case it fails). Returns the string
// length excluding the NUL.
func (s *Space) CopyInStr(dst []byte, uva uintptr, max int) (int, defs.Err_t) {
	if max > len(dst) {
		max = len(dst)
	}
	got := 0
	for got < max {
		frame, err := s.pageSlice(uva)
		if err != 0 {
			return 0, err
		}
		off := uva % limits.PGSIZE
		chunk := frame[off:]
		for _, c := range chunk {
			if got >= max {
				break
			}
			if c == 0 {
				return got, 0
			}
			dst[got] = c
			got++
		}
		uva += uintptr(len(chunk))
	}
	return 0, -defs.ENAMETOOLONG
}
