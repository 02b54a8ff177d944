// Package log implements the group-commit redo log that makes
// multi-block filesystem operations atomic across crashes.
// Writers bracket their block modifications with Begin/LogWrite/End;
// the log absorbs repeated writes to the same block within one
// transaction and commits the whole batch with a single header write
// as the crash-consistency point.
//
// Grounded on the xv6-rust original_source's log.rs transaction
// bookkeeping (begin_op reservation, absorption by blockno, the
// two-phase commit-then-install sequence), reimplemented against
// internal/bio instead of a raw block array, and using the teacher's
// spinlock/sleeplock split (spinlock guards the header and the
// outstanding/committing counters; the sleep lock the log never takes
// directly — it sleeps on the log's own address via the spinlock it
// already holds, exactly as step 1 describes).
package log

import (
	"rvkernel/internal/bio"
	"rvkernel/internal/fsfmt"
	"rvkernel/internal/limits"
	"rvkernel/internal/spinlock"
)

// Log is one filesystem's redo log, occupying limits.LOGSIZE contiguous
// blocks starting at Logstart on dev.
type Log struct {
	lock        spinlock.Lock_t
	cache       *bio.Cache
	dev         uint32
	logstart    uint32
	size        uint32 // LOGSIZE, including the header block
	outstanding int
	committing  bool
	header      fsfmt.LogHeader
	pinned      map[uint32]*bio.Buf // blockno -> pinned home buffer, this transaction
}

// New constructs a log descriptor. Call Recover once at boot before any
// Begin, to replay a transaction that committed but was not yet
// installed when the system last stopped.
func New(cache *bio.Cache, dev uint32, logstart, nlog uint32) *Log {
	return &Log{
		cache:    cache,
		dev:      dev,
		logstart: logstart,
		size:     nlog,
		pinned:   make(map[uint32]*bio.Buf),
	}
}

func (l *Log) readHeader() fsfmt.LogHeader {
	b := l.cache.Get(l.dev, l.logstart)
	l.cache.Read(b)
	h := fsfmt.DecodeLogHeader(b.Data[:])
	l.cache.Release(b)
	return h
}

func (l *Log) writeHeader(h fsfmt.LogHeader) {
	b := l.cache.Get(l.dev, l.logstart)
	h.Encode(b.Data[:])
	b.MarkDirty()
	l.cache.Write(b)
	l.cache.Release(b)
}

// Recover replays a committed-but-not-installed transaction found on
// disk, then erases the log. Must run before any Begin.
func (l *Log) Recover() {
	h := l.readHeader()
	for i := int32(0); i < h.N; i++ {
		dst := h.Blocks[i]
		src := l.cache.Get(l.dev, l.logstart+1+uint32(i))
		l.cache.Read(src)
		home := l.cache.Get(l.dev, uint32(dst))
		l.cache.Read(home)
		home.Data = src.Data
		home.MarkDirty()
		l.cache.Write(home)
		l.cache.Release(home)
		l.cache.Release(src)
	}
	l.header = fsfmt.LogHeader{}
	l.writeHeader(l.header)
}

// Begin reserves space for a new transaction's writes, blocking while a
// commit is in progress or while the pessimistic worst case (every
// outstanding transaction still writing MAXOPBLOCKS more blocks) would
// overflow the log.
func (l *Log) Begin() {
	l.lock.Acquire()
	for {
		fits := int(l.header.N)+(l.outstanding+1)*limits.MAXOPBLOCKS <= int(l.size)
		if !l.committing && fits {
			break
		}
		sleeper.Sleep(l, &l.lock)
	}
	l.outstanding++
	l.lock.Release()
}

// LogWrite records that buf (whose sleep lock the caller holds, with
// buf's contents already modified) must be installed at its home block
// when this transaction commits. Absorbs repeated writes to the same
// block within one transaction into a single log slot. Panics if
// called outside a transaction or if the log is full — both are
// programmer errors.
func (l *Log) LogWrite(buf *bio.Buf) {
	l.lock.Acquire()
	defer l.lock.Release()
	if l.outstanding == 0 {
		panic("log: write outside transaction")
	}
	for i := int32(0); i < l.header.N; i++ {
		if uint32(l.header.Blocks[i]) == buf.Blockno() {
			return // absorbed
		}
	}
	if int(l.header.N) >= int(l.size)-1 {
		panic("log: too big a transaction")
	}
	l.header.Blocks[l.header.N] = int32(buf.Blockno())
	l.header.N++
	if _, ok := l.pinned[buf.Blockno()]; !ok {
		l.cache.Pin(buf)
		l.pinned[buf.Blockno()] = buf
	}
}

// End closes one transaction. The last outstanding caller performs the
// commit sequence with the log's spinlock released, since it does I/O
//.
func (l *Log) End() {
	l.lock.Acquire()
	l.outstanding--
	if l.outstanding < 0 {
		panic("log: End without matching Begin")
	}
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		sleeper.Wakeup(l)
	}
	l.lock.Release()

	if doCommit {
		l.commit()
		l.lock.Acquire()
		l.committing = false
		sleeper.Wakeup(l)
		l.lock.Release()
	}
}

// commit runs the three-phase group commit: write each dirty block to
// its log slot, write the header (the crash-consistency point), then
// install each block at its home location and erase the log.
func (l *Log) commit() {
	if l.header.N == 0 {
		return
	}
	for i := int32(0); i < l.header.N; i++ {
		blockno := uint32(l.header.Blocks[i])
		home := l.pinned[blockno]
		slot := l.cache.Get(l.dev, l.logstart+1+uint32(i))
		slot.Data = home.Data
		slot.MarkDirty()
		l.cache.Write(slot)
		l.cache.Release(slot)
	}

	l.writeHeader(l.header)

	for i := int32(0); i < l.header.N; i++ {
		blockno := uint32(l.header.Blocks[i])
		home := l.pinned[blockno]
		l.cache.Write(home)
	}

	for _, home := range l.pinned {
		l.cache.Release(home)
	}
	l.pinned = make(map[uint32]*bio.Buf)
	l.header = fsfmt.LogHeader{}
	l.writeHeader(l.header)
}

// Sleeper is the scheduler contract the log blocks a transaction's
// Begin on when there isn't room; installed once at boot exactly like
// internal/sleeplock's own injection point.
type Sleeper interface {
	Sleep(chan_ any, lk *spinlock.Lock_t)
	Wakeup(chan_ any)
}

var sleeper Sleeper

// SetSleeper installs the scheduler's sleep/wakeup implementation.
func SetSleeper(s Sleeper) { sleeper = s }
