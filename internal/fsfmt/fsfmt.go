// Package fsfmt encodes and decodes the on-disk structures of the xv6-
// style filesystem image: the superblock, the on-disk inode,
// the directory entry, and the log header. All fields are little-endian,
// and the disk image mkfs produces.
//
// Grounded on the teacher's fs.Superblock_t field-accessor pattern
// (fieldr/fieldw indexing into a raw block), generalized with
// encoding/binary — the byte-level convention the pack uses wherever it
// talks to an external wire/disk format (kernel/chentry.go uses
// binary.Write on an ELF header) — instead of the teacher's bespoke
// uint32-word indexing, since our structures mix field widths.
package fsfmt

import (
	"encoding/binary"

	"rvkernel/internal/limits"
)

// Superblock mirrors the on-disk superblock.
type Superblock struct {
	Magic      uint32
	Size       uint32 // total blocks on disk
	Nblocks    uint32 // data blocks
	Ninodes    uint32
	Nlog       uint32
	Logstart   uint32
	Inodestart uint32
	Bmapstart  uint32
}

const SuperblockSize = 8 * 4

// Encode writes sb into a SuperblockSize-byte buffer.
func (sb *Superblock) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:], sb.Size)
	binary.LittleEndian.PutUint32(b[8:], sb.Nblocks)
	binary.LittleEndian.PutUint32(b[12:], sb.Ninodes)
	binary.LittleEndian.PutUint32(b[16:], sb.Nlog)
	binary.LittleEndian.PutUint32(b[20:], sb.Logstart)
	binary.LittleEndian.PutUint32(b[24:], sb.Inodestart)
	binary.LittleEndian.PutUint32(b[28:], sb.Bmapstart)
}

// DecodeSuperblock parses a SuperblockSize-byte buffer.
func DecodeSuperblock(b []byte) Superblock {
	return Superblock{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		Size:       binary.LittleEndian.Uint32(b[4:]),
		Nblocks:    binary.LittleEndian.Uint32(b[8:]),
		Ninodes:    binary.LittleEndian.Uint32(b[12:]),
		Nlog:       binary.LittleEndian.Uint32(b[16:]),
		Logstart:   binary.LittleEndian.Uint32(b[20:]),
		Inodestart: binary.LittleEndian.Uint32(b[24:]),
		Bmapstart:  binary.LittleEndian.Uint32(b[28:]),
	}
}

// Dinode mirrors an on-disk inode.
type Dinode struct {
	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [limits.NDIRECT + 1]uint32
}

const DinodeSize = 2 + 2 + 2 + 2 + 4 + (limits.NDIRECT+1)*4

// Encode writes the inode into a DinodeSize-byte buffer.
func (d *Dinode) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], uint16(d.Type))
	binary.LittleEndian.PutUint16(b[2:], uint16(d.Major))
	binary.LittleEndian.PutUint16(b[4:], uint16(d.Minor))
	binary.LittleEndian.PutUint16(b[6:], uint16(d.Nlink))
	binary.LittleEndian.PutUint32(b[8:], d.Size)
	off := 12
	for _, a := range d.Addrs {
		binary.LittleEndian.PutUint32(b[off:], a)
		off += 4
	}
}

// DecodeDinode parses a DinodeSize-byte buffer.
func DecodeDinode(b []byte) Dinode {
	var d Dinode
	d.Type = int16(binary.LittleEndian.Uint16(b[0:]))
	d.Major = int16(binary.LittleEndian.Uint16(b[2:]))
	d.Minor = int16(binary.LittleEndian.Uint16(b[4:]))
	d.Nlink = int16(binary.LittleEndian.Uint16(b[6:]))
	d.Size = binary.LittleEndian.Uint32(b[8:])
	off := 12
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	return d
}

// InodesPerBlock is how many Dinode records fit in one disk block.
const InodesPerBlock = limits.BSIZE / DinodeSize

// Dirent mirrors an on-disk directory entry.
type Dirent struct {
	Inum uint16
	Name [limits.DIRSIZ]byte
}

const DirentSize = 2 + limits.DIRSIZ

// Encode writes the entry into a DirentSize-byte buffer.
func (de *Dirent) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], de.Inum)
	copy(b[2:], de.Name[:])
}

// DecodeDirent parses a DirentSize-byte buffer.
func DecodeDirent(b []byte) Dirent {
	var de Dirent
	de.Inum = binary.LittleEndian.Uint16(b[0:])
	copy(de.Name[:], b[2:2+limits.DIRSIZ])
	return de
}

// LogHeader mirrors the on-disk log header.
type LogHeader struct {
	N      int32
	Blocks [limits.LOGSIZE]int32
}

// Encode writes the header into a one-block buffer.
func (h *LogHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(h.N))
	off := 4
	for _, blk := range h.Blocks {
		binary.LittleEndian.PutUint32(b[off:], uint32(blk))
		off += 4
	}
}

// DecodeLogHeader parses a one-block buffer.
func DecodeLogHeader(b []byte) LogHeader {
	var h LogHeader
	h.N = int32(binary.LittleEndian.Uint32(b[0:]))
	off := 4
	for i := range h.Blocks {
		h.Blocks[i] = int32(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	return h
}
