// Package bpath implements path canonicalization and component splitting
// for the pathname-resolution layer, grounded
// on the teacher's fd.Cwd_t.Canonicalpath/bpath.Canonicalize pairing.
package bpath

import "rvkernel/internal/ustr"

// Canonicalize collapses "." and ".." components and duplicate slashes in
// an absolute path, without touching the filesystem. It never fails: an
// unresolvable ".." past "/" simply stays at "/".
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("Canonicalize requires an absolute path")
	}
	parts := split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case len(part) == 0, part.Isdot():
			continue
		case part.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	out := ustr.Ustr{'/'}
	for i, part := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, part...)
	}
	return out
}

// split breaks a path into its '/'-separated components.
func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Skipelem strips the next path component from p, returning the component
// and the remaining unparsed suffix (with leading slashes consumed). It
// mirrors xv6's skipelem: used by namei/nameiparent to walk one element at
// a time. ok is false when p has no more elements.
func Skipelem(p ustr.Ustr) (elem ustr.Ustr, rest ustr.Ustr, ok bool) {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	if len(p) == 0 {
		return nil, nil, false
	}
	i := 0
	for i < len(p) && p[i] != '/' {
		i++
	}
	elem = p[:i]
	rest = p[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest, true
}
