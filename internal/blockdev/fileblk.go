// Package blockdev implements internal/bio.Disk backends. FileBlk backs
// a logical disk with a regular host file, standing in for the
// VirtIO/AHCI transport a real boot sequence would attach — that
// transport is a machine-mode/boot collaborator out of this kernel's
// scope, so tests and the image-building tools drive the same
// Cache/Log/FS code against a host file instead.
//
// Grounded on the teacher's ahci_disk_t (one *os.File, one lock, a
// seek-then-read/write-then-sync request loop), adapted from
// Seek+Read/Write+Sync to golang.org/x/sys/unix's Pread/Pwrite/
// Fdatasync so concurrent callers don't need to serialize around a
// shared file offset.
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"rvkernel/internal/limits"
)

// FileBlk is a BSIZE-block device backed by a host file.
type FileBlk struct {
	f *os.File
}

// OpenFileBlk opens (creating if needed) path as a block device backing
// store. size is the file's required length in bytes; if the file is
// shorter it is extended with zeros.
func OpenFileBlk(path string, size int64) (*FileBlk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
		}
	}
	return &FileBlk{f: f}, nil
}

// ReadBlock satisfies internal/bio.Disk.
func (d *FileBlk) ReadBlock(blockno uint32, dst []byte) error {
	if len(dst) != limits.BSIZE {
		panic("blockdev: ReadBlock dst not BSIZE")
	}
	n, err := unix.Pread(int(d.f.Fd()), dst, int64(blockno)*limits.BSIZE)
	if err != nil {
		return fmt.Errorf("blockdev: pread block %d: %w", blockno, err)
	}
	if n != limits.BSIZE {
		return fmt.Errorf("blockdev: short read of block %d: %d bytes", blockno, n)
	}
	return nil
}

// WriteBlock satisfies internal/bio.Disk.
func (d *FileBlk) WriteBlock(blockno uint32, src []byte) error {
	if len(src) != limits.BSIZE {
		panic("blockdev: WriteBlock src not BSIZE")
	}
	n, err := unix.Pwrite(int(d.f.Fd()), src, int64(blockno)*limits.BSIZE)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", blockno, err)
	}
	if n != limits.BSIZE {
		return fmt.Errorf("blockdev: short write of block %d: %d bytes", blockno, n)
	}
	return unix.Fdatasync(int(d.f.Fd()))
}

// Close releases the backing file descriptor.
func (d *FileBlk) Close() error { return d.f.Close() }
