//go:build rp2040

package main

import (
	"device/rp"
	"machine"
	"runtime/interrupt"

	"isrlink/core"
	"isrlink/transport"
)

// PL011 interrupt sources used by the channel
const (
	rxSources = rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM
	txSources = rp.UART0_UARTIMSC_TXIM

	rxClear = rp.UART0_UARTICR_RXIC | rp.UART0_UARTICR_RTIC
	txClear = rp.UART0_UARTICR_TXIC

	dataOverrun = 1 << 11 // UARTDR OE
)

// PL011 is one RP2040 UART unit driven as a transport.Transceiver.
//
// The FIFOs are disabled, so the receive interrupt fires for every byte and
// the transmit interrupt fires every time the holding register empties. That
// is one "space available" event per byte, which matches a TxBurst of 1.
type PL011 struct {
	uart   *rp.UART0_Type
	unit   uint8
	reset  uint32
	irq    interrupt.Interrupt
	tx, rx machine.Pin
	baud   uint32

	ch       *transport.Channel
	overruns uint32
}

// units is the dispatch table consulted by the interrupt shims
var units [2]*PL011

// interrupt.New needs a top-level handler per IRQ line
func uart0Handler(interrupt.Interrupt) { dispatch(0) }
func uart1Handler(interrupt.Interrupt) { dispatch(1) }

func dispatch(unit int) {
	if u := units[unit]; u != nil {
		u.handle()
	}
}

// NewPL011 returns the driver for UART unit 0 or 1 on the given pins
func NewPL011(unit uint8, tx, rx machine.Pin, baud uint32) *PL011 {
	u := &PL011{unit: unit, tx: tx, rx: rx, baud: baud}
	if unit == 0 {
		u.uart = rp.UART0
		u.reset = rp.RESETS_RESET_UART0
		u.irq = interrupt.New(rp.IRQ_UART0_IRQ, uart0Handler)
	} else {
		u.uart = rp.UART1
		u.reset = rp.RESETS_RESET_UART1
		u.irq = interrupt.New(rp.IRQ_UART1_IRQ, uart1Handler)
	}
	if u.baud == 0 {
		u.baud = 115200
	}
	return u
}

// Configure resets the unit and programs 8N1 at the configured baud rate.
// Interrupts stay masked until Start.
func (u *PL011) Configure() {
	u.tx.Configure(machine.PinConfig{Mode: machine.PinUART})
	u.rx.Configure(machine.PinConfig{Mode: machine.PinUART})

	rp.RESETS.RESET.SetBits(u.reset)
	rp.RESETS.RESET.ClearBits(u.reset)
	for !rp.RESETS.RESET_DONE.HasBits(u.reset) {
	}

	u.setBaud()
	// 8 data bits, 1 stop bit, no parity, FIFOs off
	u.uart.UARTLCR_H.Set(3 << rp.UART0_UARTLCR_H_WLEN_Pos)
	u.uart.UARTIMSC.Set(0)
	u.uart.UARTICR.Set(0x7FF)
	u.uart.UARTCR.SetBits(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)
}

func (u *PL011) setBaud() {
	clk := uint64(machine.CPUFrequency())
	den := 16 * uint64(u.baud)
	ibrd := clk / den
	fbrd := (clk%den*64 + den/2) / den
	if fbrd >= 64 {
		ibrd++
		fbrd = 0
	}
	if ibrd == 0 {
		ibrd, fbrd = 1, 0
	}
	if ibrd > 0xFFFF {
		ibrd, fbrd = 0xFFFF, 0
	}
	u.uart.UARTIBRD.Set(uint32(ibrd))
	u.uart.UARTFBRD.Set(uint32(fbrd))
	// divisor change latches on the next LCR_H write
	u.uart.UARTLCR_H.SetBits(0)
}

// Attach binds a channel to the unit and starts it
func (u *PL011) Attach(cfg transport.Config) *transport.Channel {
	cfg.Unit = u.unit
	cfg.TxBurst = 1
	ch := transport.NewChannel(u, cfg)
	ch.SetGuard(u)
	u.ch = ch
	units[u.unit] = u
	u.irq.SetPriority(0x80)
	u.irq.Enable()
	ch.Start()
	return ch
}

// Overruns returns how many bytes the hardware lost before the handler ran
func (u *PL011) Overruns() uint32 {
	return u.overruns
}

func (u *PL011) handle() {
	mis := u.uart.UARTMIS.Get()
	if mis&(rp.UART0_UARTMIS_RXMIS|rp.UART0_UARTMIS_RTMIS) != 0 {
		u.uart.UARTICR.Set(rxClear)
		u.ch.OnReceiveInterrupt()
	}
	if mis&rp.UART0_UARTMIS_TXMIS != 0 {
		u.uart.UARTICR.Set(txClear)
		u.ch.OnTransmitInterrupt()
	}
}

// Do runs fn with this unit's interrupt sources masked
func (u *PL011) Do(fn func()) {
	state := core.DisableInterrupts()
	saved := u.uart.UARTIMSC.Get()
	u.uart.UARTIMSC.Set(0)
	core.RestoreInterrupts(state)
	defer u.uart.UARTIMSC.Set(saved)
	fn()
}

func (u *PL011) Start() {
	u.uart.UARTICR.Set(0x7FF)
	u.uart.UARTIMSC.Set(rxSources | txSources)
}

func (u *PL011) Stop() {
	u.uart.UARTIMSC.Set(0)
}

// ClearTxQueue waits for the holding register to drain; with the FIFO
// disabled there is nothing queued to discard
func (u *PL011) ClearTxQueue() {
	for u.uart.UARTFR.HasBits(rp.UART0_UARTFR_TXFF) {
	}
}

func (u *PL011) ClearRxQueue() {
	for !u.uart.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		u.uart.UARTDR.Get()
	}
	u.uart.UARTICR.Set(rxClear)
}

func (u *PL011) TxIsIdle() bool {
	return !u.uart.UARTFR.HasBits(rp.UART0_UARTFR_BUSY)
}

func (u *PL011) TxSlotAvailable() bool {
	return !u.uart.UARTFR.HasBits(rp.UART0_UARTFR_TXFF)
}

func (u *PL011) RxHasData() bool {
	return !u.uart.UARTFR.HasBits(rp.UART0_UARTFR_RXFE)
}

func (u *PL011) WriteData(b byte) {
	u.uart.UARTDR.Set(uint32(b))
}

func (u *PL011) ReadData() byte {
	dr := u.uart.UARTDR.Get()
	if dr&dataOverrun != 0 {
		u.overruns++
	}
	return byte(dr)
}
