// Package sim provides a simulated UART for running transport channels
// without hardware.
//
// The UART models a transmit FIFO that shifts out one byte per tick, a
// receive FIFO that overruns when nobody drains it, and an interrupt
// controller that delivers receive and transmit events to registered
// handlers. Handlers never run concurrently with each other or with a
// section entered through Guard.
package sim

import (
	"sync"
	"time"

	"isrlink/transport"
)

// Hardware FIFO depths, matching the PL011
const (
	DefaultTxDepth = 32
	DefaultRxDepth = 32
)

// UART is a simulated serial unit implementing transport.Transceiver
type UART struct {
	irq sync.Mutex // interrupt controller; held while a handler runs
	hw  sync.Mutex // FIFOs and flags

	txDepth  int
	rxDepth  int
	txFIFO   []byte
	rxFIFO   []byte
	wire     []byte
	started  bool
	loopback bool
	overruns int

	onRx func()
	onTx func()

	stop chan struct{}
	done chan struct{}
}

// New creates a stopped UART with the given FIFO depths.
// Depths below 1 select the defaults.
func New(txDepth, rxDepth int) *UART {
	if txDepth < 1 {
		txDepth = DefaultTxDepth
	}
	if rxDepth < 1 {
		rxDepth = DefaultRxDepth
	}
	return &UART{txDepth: txDepth, rxDepth: rxDepth}
}

// SetHandlers registers the receive and transmit interrupt handlers
func (u *UART) SetHandlers(rx, tx func()) {
	u.irq.Lock()
	defer u.irq.Unlock()
	u.onRx = rx
	u.onTx = tx
}

// SetLoopback routes every byte shifted out back into the receive FIFO
func (u *UART) SetLoopback(enabled bool) {
	u.hw.Lock()
	u.loopback = enabled
	u.hw.Unlock()
}

// Guard returns a guard that holds off both interrupt handlers
func (u *UART) Guard() transport.Guard {
	return irqGuard{u}
}

type irqGuard struct {
	u *UART
}

func (g irqGuard) Do(fn func()) {
	g.u.irq.Lock()
	defer g.u.irq.Unlock()
	fn()
}

// Transceiver implementation

func (u *UART) Start() {
	u.hw.Lock()
	u.started = true
	u.hw.Unlock()
}

func (u *UART) Stop() {
	u.hw.Lock()
	u.started = false
	u.hw.Unlock()
}

func (u *UART) ClearTxQueue() {
	u.hw.Lock()
	u.txFIFO = u.txFIFO[:0]
	u.hw.Unlock()
}

func (u *UART) ClearRxQueue() {
	u.hw.Lock()
	u.rxFIFO = u.rxFIFO[:0]
	u.hw.Unlock()
}

func (u *UART) TxIsIdle() bool {
	u.hw.Lock()
	defer u.hw.Unlock()
	return len(u.txFIFO) == 0
}

func (u *UART) TxSlotAvailable() bool {
	u.hw.Lock()
	defer u.hw.Unlock()
	return len(u.txFIFO) < u.txDepth
}

func (u *UART) RxHasData() bool {
	u.hw.Lock()
	defer u.hw.Unlock()
	return len(u.rxFIFO) > 0
}

// WriteData queues b for transmission. A byte written to a full FIFO is
// lost, as on hardware.
func (u *UART) WriteData(b byte) {
	u.hw.Lock()
	defer u.hw.Unlock()
	if len(u.txFIFO) < u.txDepth {
		u.txFIFO = append(u.txFIFO, b)
	}
}

// ReadData pops the oldest received byte, or 0 when the FIFO is empty
func (u *UART) ReadData() byte {
	u.hw.Lock()
	defer u.hw.Unlock()
	if len(u.rxFIFO) == 0 {
		return 0
	}
	b := u.rxFIFO[0]
	u.rxFIFO = u.rxFIFO[1:]
	return b
}

// Simulation controls

// Inject delivers p to the receive FIFO as if it arrived on the line, then
// raises the receive interrupt. Bytes arriving while the FIFO is full or the
// unit is stopped are counted as overruns. It returns the bytes accepted.
func (u *UART) Inject(p []byte) int {
	u.hw.Lock()
	accepted := u.receive(p)
	u.hw.Unlock()
	if accepted > 0 {
		u.RaiseRx()
	}
	return accepted
}

// receive appends to the receive FIFO; the caller holds hw
func (u *UART) receive(p []byte) int {
	accepted := 0
	for _, b := range p {
		if !u.started || len(u.rxFIFO) >= u.rxDepth {
			u.overruns++
			continue
		}
		u.rxFIFO = append(u.rxFIFO, b)
		accepted++
	}
	return accepted
}

// Shift moves up to n bytes from the transmit FIFO onto the line and raises
// the transmit interrupt if a slot became free. It returns the bytes moved.
func (u *UART) Shift(n int) int {
	u.hw.Lock()
	if n > len(u.txFIFO) {
		n = len(u.txFIFO)
	}
	out := u.txFIFO[:n]
	u.wire = append(u.wire, out...)
	looped := 0
	if u.loopback {
		looped = u.receive(out)
	}
	u.txFIFO = append(u.txFIFO[:0], u.txFIFO[n:]...)
	u.hw.Unlock()

	if looped > 0 {
		u.RaiseRx()
	}
	if n > 0 {
		u.RaiseTx()
	}
	return n
}

// RaiseRx runs the receive handler if the unit is started
func (u *UART) RaiseRx() {
	u.raise(func() func() { return u.onRx })
}

// RaiseTx runs the transmit handler if the unit is started
func (u *UART) RaiseTx() {
	u.raise(func() func() { return u.onTx })
}

func (u *UART) raise(handler func() func()) {
	u.irq.Lock()
	defer u.irq.Unlock()

	u.hw.Lock()
	started := u.started
	u.hw.Unlock()

	if fn := handler(); started && fn != nil {
		fn()
	}
}

// Wire returns a copy of every byte shifted out so far
func (u *UART) Wire() []byte {
	u.hw.Lock()
	defer u.hw.Unlock()
	return append([]byte(nil), u.wire...)
}

// Overruns returns the number of received bytes the FIFO could not hold
func (u *UART) Overruns() int {
	u.hw.Lock()
	defer u.hw.Unlock()
	return u.overruns
}

// StartAuto shifts one byte per tick from a background goroutine until
// Close is called
func (u *UART) StartAuto(tick time.Duration) {
	u.stop = make(chan struct{})
	u.done = make(chan struct{})
	go func() {
		defer close(u.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-u.stop:
				return
			case <-ticker.C:
				u.Shift(1)
			}
		}
	}()
}

// Close stops the background goroutine and flushes the transmit FIFO onto
// the line
func (u *UART) Close() {
	if u.stop != nil {
		close(u.stop)
		<-u.done
		u.stop = nil
	}
	u.hw.Lock()
	u.wire = append(u.wire, u.txFIFO...)
	u.txFIFO = u.txFIFO[:0]
	u.hw.Unlock()
}

// Attach creates a channel over u, routes both interrupts to it and masks
// them with the UART's own guard. The channel is started.
func Attach(u *UART, cfg transport.Config) *transport.Channel {
	ch := transport.NewChannel(u, cfg)
	ch.SetGuard(u.Guard())
	u.SetHandlers(ch.OnReceiveInterrupt, ch.OnTransmitInterrupt)
	ch.Start()
	return ch
}
