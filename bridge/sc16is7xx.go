// Package bridge drives an NXP SC16IS7xx SPI-to-UART bridge as a
// transport.Transceiver.
//
// The bridge's IRQ output cannot be serviced from a hardware interrupt
// because every register access is an SPI transaction. Wire the IRQ pin to
// a goroutine (or poll) that calls HandleInterrupt; the Device serialises
// that "interrupt context" against the channel's guarded sections.
package bridge

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"

	"isrlink/transport"
)

// Registers, shifted into bits 6:3 of the SPI header byte
const (
	regRHR   = 0x00 // receive holding (read)
	regTHR   = 0x00 // transmit holding (write)
	regIER   = 0x01
	regFCR   = 0x02 // write only
	regIIR   = 0x02 // read only
	regLCR   = 0x03
	regMCR   = 0x04
	regLSR   = 0x05
	regSPR   = 0x07
	regTXLVL = 0x08
	regRXLVL = 0x09
	regDLL   = 0x00 // with LCR[7] set
	regDLH   = 0x01 // with LCR[7] set
)

// Register bits
const (
	ierRHR = 1 << 0
	ierTHR = 1 << 1

	fcrEnable  = 1 << 0
	fcrResetRX = 1 << 1
	fcrResetTX = 1 << 2

	lcr8N1  = 0x03
	lcrDLAB = 1 << 7

	lsrDataReady = 1 << 0
	lsrTxEmpty   = 1 << 6

	iirNoPending = 1 << 0
	iirSource    = 0x3E
	iirRxLine    = 0x06
	iirRxData    = 0x04
	iirRxTimeout = 0x0C
	iirTxEmpty   = 0x02

	spiRead = 1 << 7
)

// FIFODepth is the size of both hardware FIFOs
const FIFODepth = 64

// DefaultCrystal is the oscillator on most breakout boards
const DefaultCrystal = 14745600

// ErrNoDevice is returned when the scratch register does not echo
var ErrNoDevice = errors.New("sc16is7xx: no device")

// Pin is a chip select output; machine.Pin satisfies it
type Pin interface {
	High()
	Low()
}

// Config selects the UART channel and line settings
type Config struct {
	Channel  uint8 // 0 or 1 on dual-channel parts
	Baud     uint32
	Crystal  uint32
	Loopback bool // MCR internal loopback, for bring-up
}

// Device is one UART channel of an SC16IS7xx
type Device struct {
	bus drivers.SPI
	cs  Pin
	cfg Config

	irq   sync.Mutex // held while HandleInterrupt runs handlers
	busMu sync.Mutex // one SPI transaction at a time
	tx    [2]byte
	rx    [2]byte

	onRx func()
	onTx func()
}

// New creates a device on bus. cs may be nil when the bus asserts chip
// select itself.
func New(bus drivers.SPI, cs Pin, cfg Config) *Device {
	if cfg.Crystal == 0 {
		cfg.Crystal = DefaultCrystal
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	return &Device{bus: bus, cs: cs, cfg: cfg}
}

func (d *Device) header(reg uint8) byte {
	return reg<<3 | (d.cfg.Channel&1)<<1
}

func (d *Device) readReg(reg uint8) byte {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	d.tx[0] = spiRead | d.header(reg)
	d.tx[1] = 0
	d.transfer()
	return d.rx[1]
}

func (d *Device) writeReg(reg uint8, value byte) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	d.tx[0] = d.header(reg)
	d.tx[1] = value
	d.transfer()
}

func (d *Device) transfer() {
	if d.cs != nil {
		d.cs.Low()
		defer d.cs.High()
	}
	// Transceiver methods have no error path; a failed transfer reads as 0
	if err := d.bus.Tx(d.tx[:], d.rx[:]); err != nil {
		d.rx[1] = 0
	}
}

// Probe checks that the chip answers by round-tripping the scratch register
func (d *Device) Probe() error {
	const pattern = 0xA5
	d.writeReg(regSPR, pattern)
	if d.readReg(regSPR) != pattern {
		return ErrNoDevice
	}
	return nil
}

// Divisor returns the baud rate divisor for the configured crystal
func (d *Device) Divisor() uint16 {
	div := (d.cfg.Crystal + 8*d.cfg.Baud) / (16 * d.cfg.Baud)
	if div == 0 {
		div = 1
	}
	return uint16(div)
}

// SetHandlers registers the receive and transmit handlers run by
// HandleInterrupt
func (d *Device) SetHandlers(rx, tx func()) {
	d.irq.Lock()
	defer d.irq.Unlock()
	d.onRx = rx
	d.onTx = tx
}

// Guard returns a guard that holds off HandleInterrupt
func (d *Device) Guard() transport.Guard {
	return irqGuard{d}
}

type irqGuard struct {
	d *Device
}

func (g irqGuard) Do(fn func()) {
	g.d.irq.Lock()
	defer g.d.irq.Unlock()
	fn()
}

// HandleInterrupt reads the interrupt identification register and runs the
// matching handler. It reports whether an interrupt was pending.
func (d *Device) HandleInterrupt() bool {
	d.irq.Lock()
	defer d.irq.Unlock()

	iir := d.readReg(regIIR)
	if iir&iirNoPending != 0 {
		return false
	}
	switch iir & iirSource {
	case iirRxData, iirRxTimeout, iirRxLine:
		if d.onRx != nil {
			d.onRx()
		}
	case iirTxEmpty:
		if d.onTx != nil {
			d.onTx()
		}
	}
	return true
}

// Transceiver implementation

// Start programs 8N1 at the configured baud rate, enables and resets both
// FIFOs and unmasks the receive and transmit interrupts
func (d *Device) Start() {
	div := d.Divisor()
	d.writeReg(regLCR, lcrDLAB|lcr8N1)
	d.writeReg(regDLL, byte(div))
	d.writeReg(regDLH, byte(div>>8))
	d.writeReg(regLCR, lcr8N1)

	var mcr byte
	if d.cfg.Loopback {
		mcr = 1 << 4
	}
	d.writeReg(regMCR, mcr)
	d.writeReg(regFCR, fcrEnable|fcrResetRX|fcrResetTX)
	d.writeReg(regIER, ierRHR|ierTHR)
}

func (d *Device) Stop() {
	d.writeReg(regIER, 0)
}

func (d *Device) ClearTxQueue() {
	d.writeReg(regFCR, fcrEnable|fcrResetTX)
}

func (d *Device) ClearRxQueue() {
	d.writeReg(regFCR, fcrEnable|fcrResetRX)
}

func (d *Device) TxIsIdle() bool {
	return d.readReg(regLSR)&lsrTxEmpty != 0
}

func (d *Device) TxSlotAvailable() bool {
	return d.readReg(regTXLVL) > 0
}

func (d *Device) RxHasData() bool {
	return d.readReg(regLSR)&lsrDataReady != 0
}

func (d *Device) WriteData(b byte) {
	d.writeReg(regTHR, b)
}

func (d *Device) ReadData() byte {
	return d.readReg(regRHR)
}

// Attach creates a channel over d and routes both interrupt sources to it.
// TxBurst defaults to the FIFO depth since one THR-empty interrupt leaves
// the whole FIFO free.
func Attach(d *Device, cfg transport.Config) *transport.Channel {
	if cfg.TxBurst <= 1 {
		cfg.TxBurst = FIFODepth
	}
	ch := transport.NewChannel(d, cfg)
	ch.SetGuard(d.Guard())
	d.SetHandlers(ch.OnReceiveInterrupt, ch.OnTransmitInterrupt)
	return ch
}
