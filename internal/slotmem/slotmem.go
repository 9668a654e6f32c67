package slotmem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	headerSize = 64
	seqSize    = 8
	magic      = 0x50584d53
	version    = 1
)

var (
	// ErrFull is returned by Grab when every slot is in use.
	ErrFull = errors.New("slotmem: no free slot")
	// ErrLayout is returned when an existing table does not match the
	// requested record size or slot count.
	ErrLayout = errors.New("slotmem: layout mismatch")
	// ErrSlot is returned for an index outside the table.
	ErrSlot = errors.New("slotmem: slot index out of range")
)

// staleWrite is how long a sequence word may stay odd before its writer is
// taken to have died mid-update.
var staleWrite = time.Second

// Table is a fixed array of fixed-size records.
type Table struct {
	name     string
	buf      []byte
	recSize  int
	stride   int
	n        int
	inuseOff int
	dataOff  int

	mu      sync.Mutex
	xlock   func() error
	xunlock func() error
	closeFn func() error

	slots []sync.RWMutex
}

// Size returns the number of bytes a table with the given geometry occupies.
func Size(recordSize, slots int) int {
	return headerSize + align8(4*slots) + slots*stride(recordSize)
}

// NewMemory allocates a process-local table.
func NewMemory(name string, recordSize, slots int) (*Table, error) {
	if recordSize <= 0 || slots <= 0 {
		return nil, fmt.Errorf("slotmem %q: invalid geometry %dx%d", name, slots, recordSize)
	}
	t := newTable(name, make([]byte, Size(recordSize, slots)), recordSize, slots)
	t.writeHeader()
	t.closeFn = func() error { return nil }
	return t, nil
}

func newTable(name string, buf []byte, recordSize, slots int) *Table {
	return &Table{
		name:     name,
		buf:      buf,
		recSize:  recordSize,
		stride:   stride(recordSize),
		n:        slots,
		inuseOff: headerSize,
		dataOff:  headerSize + align8(4*slots),
		xlock:    func() error { return nil },
		xunlock:  func() error { return nil },
		slots:    make([]sync.RWMutex, slots),
	}
}

func (t *Table) writeHeader() {
	binary.LittleEndian.PutUint32(t.buf[0:], magic)
	binary.LittleEndian.PutUint32(t.buf[4:], version)
	binary.LittleEndian.PutUint32(t.buf[8:], uint32(t.recSize))
	binary.LittleEndian.PutUint32(t.buf[12:], uint32(t.n))
}

func (t *Table) checkHeader() error {
	if binary.LittleEndian.Uint32(t.buf[0:]) != magic ||
		binary.LittleEndian.Uint32(t.buf[4:]) != version {
		return fmt.Errorf("%w: %s: bad magic or version", ErrLayout, t.name)
	}
	rs := int(binary.LittleEndian.Uint32(t.buf[8:]))
	n := int(binary.LittleEndian.Uint32(t.buf[12:]))
	if rs != t.recSize || n != t.n {
		return fmt.Errorf("%w: %s: have %dx%d, want %dx%d", ErrLayout, t.name, n, rs, t.n, t.recSize)
	}
	return nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Slots returns the slot count.
func (t *Table) Slots() int { return t.n }

// RecordSize returns the payload size of one record.
func (t *Table) RecordSize() int { return t.recSize }

// Lock takes the structural lock: process-local first, then cross-process.
func (t *Table) Lock() error {
	t.mu.Lock()
	if err := t.xlock(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("slotmem %q: lock: %w", t.name, err)
	}
	return nil
}

// Unlock releases the structural lock.
func (t *Table) Unlock() error {
	err := t.xunlock()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("slotmem %q: unlock: %w", t.name, err)
	}
	return nil
}

// Grab marks the first free slot in use and zeroes its record. The caller
// must hold Lock.
func (t *Table) Grab() (int, error) {
	for i := 0; i < t.n; i++ {
		if atomic.LoadUint32(t.inuse(i)) != 0 {
			continue
		}
		if err := t.Update(i, zero); err != nil {
			return -1, err
		}
		atomic.StoreUint32(t.inuse(i), 1)
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s (%d slots)", ErrFull, t.name, t.n)
}

// Free returns a slot to the free list. The caller must hold Lock.
func (t *Table) Free(i int) error {
	if err := t.Update(i, zero); err != nil {
		return err
	}
	atomic.StoreUint32(t.inuse(i), 0)
	return nil
}

// InUse reports whether slot i holds a record.
func (t *Table) InUse(i int) bool {
	if i < 0 || i >= t.n {
		return false
	}
	return atomic.LoadUint32(t.inuse(i)) != 0
}

// Read copies record i into dst, retrying until it observes a record that
// was not being written concurrently.
func (t *Table) Read(i int, dst []byte) error {
	if i < 0 || i >= t.n {
		return fmt.Errorf("%w: %s[%d]", ErrSlot, t.name, i)
	}
	if len(dst) < t.recSize {
		return fmt.Errorf("slotmem %q: short buffer %d < %d", t.name, len(dst), t.recSize)
	}

	t.slots[i].RLock()
	defer t.slots[i].RUnlock()

	seq := t.seq(i)
	rec := t.record(i)
	for {
		before := t.waitEven(i)
		copy(dst, rec)
		if atomic.LoadUint32(seq) == before {
			return nil
		}
	}
}

// Update runs fn against record i in place. fn must not retain rec.
func (t *Table) Update(i int, fn func(rec []byte)) error {
	if i < 0 || i >= t.n {
		return fmt.Errorf("%w: %s[%d]", ErrSlot, t.name, i)
	}

	t.slots[i].Lock()
	defer t.slots[i].Unlock()

	seq := t.seq(i)
	for {
		s := t.waitEven(i)
		if atomic.CompareAndSwapUint32(seq, s, s+1) {
			break
		}
		runtime.Gosched()
	}
	defer atomic.AddUint32(seq, 1)

	fn(t.record(i))
	return nil
}

// waitEven spins until the sequence word of slot i is even and returns it.
// A word left odd by a process that died inside Update is advanced once it
// has not moved for staleWrite, so the slot does not stay locked forever.
func (t *Table) waitEven(i int) uint32 {
	seq := t.seq(i)
	var (
		stuck uint32
		since time.Time
	)
	for {
		s := atomic.LoadUint32(seq)
		if s&1 == 0 {
			return s
		}
		switch {
		case since.IsZero() || s != stuck:
			stuck, since = s, time.Now()
		case time.Since(since) > staleWrite:
			atomic.CompareAndSwapUint32(seq, s, s+1)
			continue
		}
		runtime.Gosched()
	}
}

// ForEach calls fn for every in-use slot in index order until fn returns
// false.
func (t *Table) ForEach(fn func(i int) bool) {
	for i := 0; i < t.n; i++ {
		if !t.InUse(i) {
			continue
		}
		if !fn(i) {
			return
		}
	}
}

// Close releases the table's backing storage.
func (t *Table) Close() error {
	return t.closeFn()
}

func (t *Table) inuse(i int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.buf[t.inuseOff+4*i]))
}

func (t *Table) seq(i int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.buf[t.dataOff+i*t.stride]))
}

func (t *Table) record(i int) []byte {
	off := t.dataOff + i*t.stride + seqSize
	return t.buf[off : off+t.recSize : off+t.recSize]
}

func zero(rec []byte) {
	clear(rec)
}

func stride(recordSize int) int {
	return seqSize + align8(recordSize)
}

func align8(n int) int {
	return (n + 7) &^ 7
}
