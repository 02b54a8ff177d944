package blockdev

import (
	"bytes"
	"path/filepath"
	"testing"

	"rvkernel/internal/limits"
)

func TestFileBlkReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileBlk(path, 64*limits.BSIZE)
	if err != nil {
		t.Fatalf("OpenFileBlk: %v", err)
	}
	defer d.Close()

	var want [limits.BSIZE]byte
	for i := range want {
		want[i] = byte(i)
	}
	if err := d.WriteBlock(5, want[:]); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	var got [limits.BSIZE]byte
	if err := d.ReadBlock(5, got[:]); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(want[:], got[:]) {
		t.Fatal("read back different bytes than written")
	}
}

func TestFileBlkUntouchedBlockIsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileBlk(path, 64*limits.BSIZE)
	if err != nil {
		t.Fatalf("OpenFileBlk: %v", err)
	}
	defer d.Close()

	var got [limits.BSIZE]byte
	if err := d.ReadBlock(10, got[:]); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	var zero [limits.BSIZE]byte
	if !bytes.Equal(zero[:], got[:]) {
		t.Fatal("freshly created file block should read back as zero")
	}
}
