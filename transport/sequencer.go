package transport

import (
	"sync/atomic"

	"isrlink/core"
)

// TransmitSequencer drains one borrowed buffer into a Transceiver.
//
// Start primes the hardware with the first byte; every later byte is pushed
// by OnTxSlotAvailable, which the transmit interrupt calls once per "space
// available" event. There is no request queue: a buffer is borrowed until
// the sequencer reports finished, and Start rejects new work until then.
type TransmitSequencer struct {
	tx    Transceiver
	mode  Mode
	burst int

	buf      []byte
	sent     atomic.Uint32 // advanced by the interrupt context
	finished atomic.Bool

	h *hooks
}

// NewTransmitSequencer creates an idle sequencer writing to tx.
// burst is the maximum number of bytes pushed per event; values below 1 mean 1.
func NewTransmitSequencer(tx Transceiver, mode Mode, burst int) *TransmitSequencer {
	return newTransmitSequencer(tx, mode, burst, newHooks(0))
}

func newTransmitSequencer(tx Transceiver, mode Mode, burst int, h *hooks) *TransmitSequencer {
	if burst < 1 {
		burst = 1
	}
	s := &TransmitSequencer{
		tx:    tx,
		mode:  mode,
		burst: burst,
		h:     h,
	}
	s.finished.Store(true)
	return s
}

// SetMode selects blocking or non-blocking Start
func (s *TransmitSequencer) SetMode(mode Mode) {
	s.mode = mode
}

// Mode returns the current mode
func (s *TransmitSequencer) Mode() Mode {
	return s.mode
}

// SetGuard sets the guard used by Abort
func (s *TransmitSequencer) SetGuard(g Guard) {
	s.h.guard = g
}

// SetIdle sets the idle primitive used by blocking Start
func (s *TransmitSequencer) SetIdle(idle IdleFunc) {
	s.h.idle = idle
}

// SetTimeout sets the timeout predicate polled by blocking Start
func (s *TransmitSequencer) SetTimeout(timeout TimeoutFunc) {
	s.h.timeout = timeout
}

// IsFinished reports whether no transmission is in flight
func (s *TransmitSequencer) IsFinished() bool {
	return s.finished.Load()
}

// Sent returns how many bytes of the current or last buffer were handed to
// the hardware
func (s *TransmitSequencer) Sent() int {
	return int(s.sent.Load())
}

// Start begins transmitting buf.
//
// It returns ErrBusy without side effects while a transmission is in
// flight. An empty buf succeeds immediately. The priming byte is only
// written once the transceiver has a free slot, since the last byte of the
// previous buffer may still occupy it.
//
// In non-blocking mode Start returns ErrBusy while the slot is occupied and
// 0 once the first byte is primed. In blocking mode it waits for the slot,
// then until every byte was pushed, and returns len(buf). One timeout
// predicate covers both waits; if it fires first, the bytes already pushed
// are reported with ErrTimeout and the transmission is abandoned.
func (s *TransmitSequencer) Start(buf []byte) (int, error) {
	if !s.finished.Load() {
		return 0, s.busy()
	}
	if len(buf) == 0 {
		return 0, nil
	}

	var expired TimeoutFunc
	if s.mode == NonBlocking {
		if !s.tx.TxSlotAvailable() {
			return 0, s.busy()
		}
	} else {
		expired = s.h.arm()
		if !s.h.wait(expired, s.tx.TxSlotAvailable) {
			core.RecordEvent(core.EvtTxTimeout, s.h.unit, 0, uint32(len(buf)))
			return 0, ErrTimeout
		}
	}

	s.buf = buf
	s.sent.Store(1)
	// Armed before priming: the event for the primed byte may fire before
	// WriteData returns.
	if len(buf) > 1 {
		s.finished.Store(false)
	}
	core.RecordEvent(core.EvtTxStart, s.h.unit, uint32(len(buf)), 0)
	s.tx.WriteData(buf[0])

	if s.mode == NonBlocking {
		return 0, nil
	}

	if !s.h.wait(expired, s.IsFinished) {
		sent := s.abort()
		core.RecordEvent(core.EvtTxTimeout, s.h.unit, uint32(sent), uint32(len(buf)))
		return sent, ErrTimeout
	}
	return len(buf), nil
}

func (s *TransmitSequencer) busy() error {
	core.RecordEvent(core.EvtTxBusy, s.h.unit, s.sent.Load(), uint32(len(s.buf)))
	return ErrBusy
}

// OnTxSlotAvailable continues the transmission from interrupt context.
//
// With a burst of 1 it pushes exactly one byte per event. With a larger
// burst it pushes up to burst bytes, stopping early when the transceiver
// reports no free slot. Once the last byte is pushed the sequencer is
// finished and further events push nothing.
func (s *TransmitSequencer) OnTxSlotAvailable() {
	if s.finished.Load() {
		return
	}

	buf := s.buf
	sent := s.sent.Load()
	length := uint32(len(buf))
	for pushed := 0; pushed < s.burst && sent < length; pushed++ {
		if pushed > 0 && !s.tx.TxSlotAvailable() {
			break
		}
		s.tx.WriteData(buf[sent])
		sent++
	}
	s.sent.Store(sent)

	if sent >= length {
		s.finished.Store(true)
		core.RecordEvent(core.EvtTxDone, s.h.unit, length, 0)
	}
}

// Abort abandons the transmission in flight, if any.
// It returns the number of bytes that had been pushed.
func (s *TransmitSequencer) Abort() int {
	if s.finished.Load() {
		return s.Sent()
	}
	sent := s.abort()
	core.RecordEvent(core.EvtTxAbort, s.h.unit, uint32(sent), uint32(len(s.buf)))
	return sent
}

// abort marks the sequencer finished with the interrupt context excluded,
// so no continuation is half way through the buffer when it returns
func (s *TransmitSequencer) abort() int {
	var sent uint32
	s.h.guard.Do(func() {
		sent = s.sent.Load()
		s.finished.Store(true)
	})
	return int(sent)
}
