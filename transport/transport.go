// Package transport implements a duplex, interrupt-driven byte stream.
//
// A Channel pairs a ReceiveRing, filled one byte at a time from the receive
// interrupt, with a TransmitSequencer, drained one event at a time from the
// transmit interrupt. Mainline code reads and writes through the Channel and
// waits cooperatively by calling an idle primitive between polls.
//
// Two execution contexts touch the shared state. The interrupt context owns
// the ring's write index, its overflow flag and the sequencer's progress
// counter. The mainline context owns the ring's read index and arms new
// transmissions. The only operations that modify fields owned by both sides
// run inside a Guard.
package transport

import (
	"time"

	"isrlink/core"
)

// Mode selects how Write behaves while a transmission drains
type Mode uint8

const (
	// Blocking makes Write wait until every byte was handed to the hardware
	Blocking Mode = iota
	// NonBlocking makes Write return right after the first byte is primed
	NonBlocking
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case NonBlocking:
		return "nonblocking"
	default:
		return "unknown"
	}
}

const (
	DefaultRxCapacity = 128  // Receive ring size in bytes
	DefaultDelimiter  = '\n' // Line delimiter for ReadLine
	DefaultTxBurst    = 1    // Bytes pushed per transmit event

	minRxCapacity = 2

	// LineOverflow is returned by PeekLineLength when the ring overflowed
	LineOverflow = -1
)

// IdleFunc is called repeatedly while mainline code waits.
// It may put the processor to sleep until the next interrupt.
type IdleFunc func()

// TimeoutFunc reports whether the current wait has exceeded its deadline.
// A nil TimeoutFunc never expires.
type TimeoutFunc func() bool

// Guard runs fn with the interrupt context excluded.
// Implementations must release the exclusion on every exit path.
type Guard interface {
	Do(fn func())
}

// Config holds the build-time parameters of a Channel
type Config struct {
	// RxCapacity is the receive ring size. The ring holds at most
	// RxCapacity-1 bytes.
	RxCapacity int

	// Delimiter terminates lines for ReadLine and PeekLineLength.
	// A zero value selects DefaultDelimiter; use SetDelimiter(0) for NUL.
	Delimiter byte

	// Mode is the initial write mode
	Mode Mode

	// TxBurst is the number of bytes the transmit continuation may push
	// per event. 1 suits single-register transmitters; FIFO hardware can
	// use its free depth.
	TxBurst int

	// Unit tags recorded events with the hardware unit number
	Unit uint8
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		RxCapacity: DefaultRxCapacity,
		Delimiter:  DefaultDelimiter,
		Mode:       Blocking,
		TxBurst:    DefaultTxBurst,
	}
}

// applyDefaults fills in missing configuration values
func (c *Config) applyDefaults() {
	if c.RxCapacity <= 0 {
		c.RxCapacity = DefaultRxCapacity
	}
	if c.RxCapacity < minRxCapacity {
		c.RxCapacity = minRxCapacity
	}
	if c.Delimiter == 0 {
		c.Delimiter = DefaultDelimiter
	}
	if c.TxBurst <= 0 {
		c.TxBurst = DefaultTxBurst
	}
}

// hooks holds the collaborators shared by a ring and a sequencer
type hooks struct {
	guard    Guard
	idle     IdleFunc
	timeout  TimeoutFunc
	deadline func() TimeoutFunc
	unit     uint8
}

func newHooks(unit uint8) *hooks {
	return &hooks{
		guard: core.InterruptGuard{},
		idle:  core.Idle,
		unit:  unit,
	}
}

// arm returns the timeout predicate for one blocking call
func (h *hooks) arm() TimeoutFunc {
	if h.timeout != nil {
		return h.timeout
	}
	if h.deadline != nil {
		return h.deadline()
	}
	return nil
}

// wait idles until ready reports true.
// It returns false when expired fires first.
func (h *hooks) wait(expired TimeoutFunc, ready func() bool) bool {
	for !ready() {
		h.idle()
		if expired != nil && expired() {
			return ready()
		}
	}
	return true
}

// DeadlineUS returns a deadline factory for SetDeadline that arms a fresh
// core timer deadline of us microseconds for every blocking call.
func DeadlineUS(us uint32) func() TimeoutFunc {
	return func() TimeoutFunc {
		return core.TimeoutAfter(us)
	}
}

// DeadlineAfter returns a deadline factory for SetDeadline that measures d
// of wall-clock time from the start of every blocking call. It suits hosts
// where the core tick clock is not driven by hardware.
func DeadlineAfter(d time.Duration) func() TimeoutFunc {
	return func() TimeoutFunc {
		end := time.Now().Add(d)
		return func() bool {
			return !time.Now().Before(end)
		}
	}
}
