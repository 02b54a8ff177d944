// Package limits centralizes the fixed-size table and budget constants
// referenced throughout the kernel: process table size, open-file table
// size, buffer cache size, and on-disk filesystem geometry constants.
package limits

// Process and file-table budgets.
const (
	NPROC  = 64  // process table size
	NCPU   = 8   // CPU slot table size
	NOFILE = 16  // open files per process
	NFILE  = 100 // system-wide open file table size
	NBUF   = 30  // buffer cache size
	NINODE = 50  // in-memory inode table size
)

// On-disk filesystem geometry.
const (
	BSIZE       = 1024      // block size in bytes
	NDIRECT     = 12        // direct block pointers per inode
	NINDIRECT   = BSIZE / 4 // indirect block pointers per indirect block
	MAXFILE     = NDIRECT + NINDIRECT
	DIRSIZ      = 14 // bytes of a directory entry's name
	ROOTINO     = 1  // root inode number
	MAXOPBLOCKS = 10 // max blocks any single fs operation writes
	LOGSIZE     = 3 * MAXOPBLOCKS
	FSMAGIC     = 0x10203040
)

// Pipe geometry.
const PIPESIZE = 512

// Virtual memory layout constants.
const (
	PGSIZE  = 4096
	PGSHIFT = 12
	// MAXVA is one bit below the true Sv39 maximum so that sign
	// extension of the top VA bit never needs to be modeled.
	MAXVA = 1 << (9 + 9 + 9 + 12 - 1)
)
