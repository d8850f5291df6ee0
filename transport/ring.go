package transport

import (
	"sync/atomic"

	"isrlink/core"
)

// ReceiveRing is a fixed-capacity circular buffer for received bytes.
//
// OnByteReceived is the only method that may run in interrupt context. All
// other methods belong to the single mainline context. The ring holds the
// bytes at [read, write) modulo its capacity, so one slot always stays free
// to tell a full ring from an empty one.
type ReceiveRing struct {
	storage []byte
	size    uint32

	read     atomic.Uint32 // mainline only
	write    atomic.Uint32 // interrupt only
	overflow atomic.Bool   // interrupt sets, Clear resets

	h *hooks
}

// NewReceiveRing creates a ring of the given capacity.
// A capacity below 2 is raised to 2. The ring waits with core.Idle and
// masks interrupts with core.InterruptGuard until told otherwise.
func NewReceiveRing(capacity int) *ReceiveRing {
	return newReceiveRing(capacity, newHooks(0))
}

func newReceiveRing(capacity int, h *hooks) *ReceiveRing {
	if capacity < minRxCapacity {
		capacity = minRxCapacity
	}
	return &ReceiveRing{
		storage: make([]byte, capacity),
		size:    uint32(capacity),
		h:       h,
	}
}

// SetGuard sets the guard used by Clear
func (r *ReceiveRing) SetGuard(g Guard) {
	r.h.guard = g
}

// SetIdle sets the idle primitive used while waiting for data
func (r *ReceiveRing) SetIdle(idle IdleFunc) {
	r.h.idle = idle
}

// SetTimeout sets the timeout predicate polled while waiting for data
func (r *ReceiveRing) SetTimeout(timeout TimeoutFunc) {
	r.h.timeout = timeout
}

// Capacity returns the storage size. At most Capacity()-1 bytes are held.
func (r *ReceiveRing) Capacity() int {
	return int(r.size)
}

func (r *ReceiveRing) next(i uint32) uint32 {
	i++
	if i == r.size {
		return 0
	}
	return i
}

// OnByteReceived stores one byte from interrupt context.
// When the ring is full the byte is dropped, the write index stays where it
// was and the sticky overflow flag is set. It reports whether b was stored.
func (r *ReceiveRing) OnByteReceived(b byte) bool {
	w := r.write.Load()
	r.storage[w] = b

	next := r.next(w)
	rd := r.read.Load()
	if next == rd {
		r.overflow.Store(true)
		core.RecordEvent(core.EvtRxOverflow, r.h.unit, rd, w)
		return false
	}
	r.write.Store(next)
	return true
}

// BytesAvailable returns the number of buffered bytes
func (r *ReceiveRing) BytesAvailable() int {
	w := r.write.Load()
	rd := r.read.Load()
	return int((w + r.size - rd) % r.size)
}

// Free returns the number of bytes that can be received before overflow
func (r *ReceiveRing) Free() int {
	return int(r.size) - 1 - r.BytesAvailable()
}

// IsReadable reports whether at least one byte is buffered
func (r *ReceiveRing) IsReadable() bool {
	return r.read.Load() != r.write.Load()
}

// Overflowed reports whether bytes were dropped since the last Clear
func (r *ReceiveRing) Overflowed() bool {
	return r.overflow.Load()
}

// drain copies buffered bytes into p until p is full or the ring is empty
func (r *ReceiveRing) drain(p []byte) int {
	rd := r.read.Load()
	w := r.write.Load()
	n := 0
	for n < len(p) && rd != w {
		p[n] = r.storage[rd]
		n++
		rd = r.next(rd)
	}
	r.read.Store(rd)
	return n
}

// pop removes one byte; the caller checked the ring is not empty
func (r *ReceiveRing) pop() byte {
	rd := r.read.Load()
	b := r.storage[rd]
	r.read.Store(r.next(rd))
	return b
}

// Read waits until at least one byte is buffered, then copies what is
// queued into p, up to len(p). It does not wait to fill p.
// If the timeout predicate fires first it returns ErrTimeout.
func (r *ReceiveRing) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !r.h.wait(r.h.arm(), r.IsReadable) {
		core.RecordEvent(core.EvtRxTimeout, r.h.unit, 0, uint32(len(p)))
		return 0, ErrTimeout
	}
	return r.drain(p), nil
}

// ReadFull keeps reading until len(p) bytes were collected.
// One timeout predicate covers the whole call; on timeout the bytes
// collected so far are reported alongside ErrTimeout.
func (r *ReceiveRing) ReadFull(p []byte) (int, error) {
	expired := r.h.arm()
	n := 0
	for n < len(p) {
		if !r.h.wait(expired, r.IsReadable) {
			core.RecordEvent(core.EvtRxTimeout, r.h.unit, uint32(n), uint32(len(p)))
			return n, ErrTimeout
		}
		n += r.drain(p[n:])
	}
	return n, nil
}

// ReadNonBlocking copies whatever is buffered into p and never waits
func (r *ReceiveRing) ReadNonBlocking(p []byte) int {
	return r.drain(p)
}

// ReadByte waits for a single byte
func (r *ReceiveRing) ReadByte() (byte, error) {
	if !r.h.wait(r.h.arm(), r.IsReadable) {
		core.RecordEvent(core.EvtRxTimeout, r.h.unit, 0, 1)
		return 0, ErrTimeout
	}
	return r.pop(), nil
}

// ReadLine copies bytes into p one at a time until delim has been copied,
// len(p)-1 bytes were copied, or overflow or timeout is observed. The byte
// after the last one copied is always set to 0.
//
// It returns the number of bytes copied, not counting the terminator. When
// overflow is observed before delim the line cannot be trusted and
// ErrBadLine is returned; on timeout ErrTimeout.
//
// While the overflow flag is set ReadLine refuses every line, including
// complete ones buffered before the drop, and consumes nothing. Call Clear
// to resume line reads.
func (r *ReceiveRing) ReadLine(p []byte, delim byte) (int, error) {
	if len(p) == 0 {
		return 0, ErrNoBuffer
	}

	expired := r.h.arm()
	n := 0
	for n < len(p)-1 {
		if r.overflow.Load() {
			p[n] = 0
			core.RecordEvent(core.EvtBadLine, r.h.unit, uint32(n), 0)
			return n, ErrBadLine
		}
		if !r.IsReadable() && !r.h.wait(expired, r.readableOrOverflowed) {
			p[n] = 0
			core.RecordEvent(core.EvtRxTimeout, r.h.unit, uint32(n), uint32(len(p)))
			return n, ErrTimeout
		}
		if !r.IsReadable() {
			// woke for overflow; the check at the top of the loop reports it
			continue
		}

		b := r.pop()
		p[n] = b
		n++
		if b == delim {
			break
		}
	}
	p[n] = 0
	return n, nil
}

func (r *ReceiveRing) readableOrOverflowed() bool {
	return r.IsReadable() || r.overflow.Load()
}

// PeekLineLength scans the buffered bytes for delim without consuming them.
// It returns the length of the first line including delim, 0 when no
// complete line is buffered, or LineOverflow when the overflow flag is set.
func (r *ReceiveRing) PeekLineLength(delim byte) int {
	if r.overflow.Load() {
		return LineOverflow
	}

	rd := r.read.Load()
	w := r.write.Load()
	length := 0
	for i := rd; i != w; i = r.next(i) {
		if r.storage[i] == delim {
			length = int((i+r.size-rd)%r.size) + 1
			break
		}
	}

	// bytes may have been dropped while scanning
	if r.overflow.Load() {
		return LineOverflow
	}
	return length
}

// Clear discards buffered bytes and resets the overflow flag.
// The three fields are reset together inside the guard.
func (r *ReceiveRing) Clear() {
	var discarded int
	r.h.guard.Do(func() {
		discarded = r.BytesAvailable()
		r.read.Store(0)
		r.write.Store(0)
		r.overflow.Store(false)
	})
	core.RecordEvent(core.EvtRxClear, r.h.unit, uint32(discarded), 0)
}
