package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"isrlink/transport"
)

// DefaultTxDepth is the number of bytes the pump queues ahead of the port
const DefaultTxDepth = 16

// Pump drives a transport.Channel from a Port.
//
// It plays the part of the UART hardware and its interrupt controller: a
// reader goroutine stores incoming bytes in a receive queue and raises the
// receive event, a writer goroutine hands queued bytes to the port and
// raises a transmit event after each one. Events are delivered one at a time
// under the pump's interrupt lock, which is also the channel's Guard.
type Pump struct {
	port Port

	irq sync.Mutex // held while a handler runs
	mu  sync.Mutex // rxq

	rxq     []byte
	txq     chan byte
	pending atomic.Int32 // queued or being written
	started atomic.Bool

	onRx func()
	onTx func()
}

// NewPump creates a pump over port with a transmit queue of txDepth bytes.
// txDepth below 1 selects DefaultTxDepth.
func NewPump(port Port, txDepth int) *Pump {
	if txDepth < 1 {
		txDepth = DefaultTxDepth
	}
	return &Pump{
		port: port,
		txq:  make(chan byte, txDepth),
	}
}

// Attach creates a channel over the pump and routes both events to it
func (p *Pump) Attach(cfg transport.Config) *transport.Channel {
	ch := transport.NewChannel(p, cfg)
	ch.SetGuard(p.Guard())
	p.irq.Lock()
	p.onRx = ch.OnReceiveInterrupt
	p.onTx = ch.OnTransmitInterrupt
	p.irq.Unlock()
	return ch
}

// Guard returns a guard that holds off event delivery
func (p *Pump) Guard() transport.Guard {
	return pumpGuard{p}
}

type pumpGuard struct {
	p *Pump
}

func (g pumpGuard) Do(fn func()) {
	g.p.irq.Lock()
	defer g.p.irq.Unlock()
	fn()
}

// Run moves bytes between the port and the channel until ctx is cancelled
// or the port fails. The port is closed when Run returns.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- p.readLoop()
	}()
	go func() {
		defer wg.Done()
		errc <- p.writeLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()
	if cerr := p.port.Close(); cerr != nil && err == nil && !errors.Is(cerr, os.ErrClosed) {
		err = fmt.Errorf("close port: %w", cerr)
	}
	wg.Wait()

	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (p *Pump) readLoop() error {
	buf := make([]byte, 64)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			p.deliver(buf[:n])
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
}

// deliver queues received bytes and raises the receive event
func (p *Pump) deliver(data []byte) {
	if !p.started.Load() {
		glog.V(2).Infof("serial: dropped %d bytes while stopped", len(data))
		return
	}
	p.mu.Lock()
	p.rxq = append(p.rxq, data...)
	p.mu.Unlock()
	glog.V(3).Infof("serial: rx %q", data)
	p.raise(p.onRx)
}

func (p *Pump) writeLoop(ctx context.Context) error {
	var one [1]byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-p.txq:
			one[0] = b
			_, err := p.port.Write(one[:])
			p.pending.Add(-1)
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
			p.raise(p.onTx)
		}
	}
}

func (p *Pump) raise(handler func()) {
	p.irq.Lock()
	defer p.irq.Unlock()
	if handler != nil && p.started.Load() {
		handler()
	}
}

// Transceiver implementation

func (p *Pump) Start() {
	p.started.Store(true)
}

func (p *Pump) Stop() {
	p.started.Store(false)
}

func (p *Pump) ClearTxQueue() {
	for {
		select {
		case <-p.txq:
			p.pending.Add(-1)
		default:
			if f, ok := p.port.(queueFlusher); ok {
				if err := f.FlushOutput(); err != nil {
					glog.Warningf("serial: flush output: %v", err)
				}
			}
			return
		}
	}
}

func (p *Pump) ClearRxQueue() {
	p.mu.Lock()
	p.rxq = p.rxq[:0]
	p.mu.Unlock()
	if f, ok := p.port.(queueFlusher); ok {
		if err := f.FlushInput(); err != nil {
			glog.Warningf("serial: flush input: %v", err)
		}
	}
}

func (p *Pump) TxIsIdle() bool {
	if p.pending.Load() > 0 {
		return false
	}
	if q, ok := p.port.(outputQueue); ok {
		n, err := q.OutQueue()
		return err != nil || n == 0
	}
	return true
}

func (p *Pump) TxSlotAvailable() bool {
	return len(p.txq) < cap(p.txq)
}

func (p *Pump) RxHasData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rxq) > 0
}

// WriteData queues b for the writer goroutine. A byte written while the
// queue is full is lost, as on hardware.
func (p *Pump) WriteData(b byte) {
	p.pending.Add(1)
	select {
	case p.txq <- b:
	default:
		p.pending.Add(-1)
		glog.Warningf("serial: transmit queue full, byte dropped")
	}
}

// ReadData pops the oldest received byte, or 0 when none is queued
func (p *Pump) ReadData() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rxq) == 0 {
		return 0
	}
	b := p.rxq[0]
	p.rxq = p.rxq[1:]
	return b
}
