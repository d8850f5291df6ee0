//go:build rp2040

package pio

// PIO serial transmitter.
//
// Each byte pushed into the state machine's TX FIFO is shifted out LSB first
// as 8N1 with eight PIO cycles per bit. The FIFO "not full" flag is routed to
// the PIO block's IRQ0 line, which is the transmit interrupt of the channel.
// The line is level sensitive, so it is unmasked while a transmission is in
// flight and masked again once the sequencer reports finished.

import (
	"device/rp"
	"errors"
	"machine"
	"runtime/interrupt"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"isrlink/transport"
)

const (
	txProgramOrigin = 0 // jump addresses below are absolute

	// FIFODepth is the TX FIFO depth in words
	FIFODepth = 4
)

var ErrNoStateMachine = errors.New("pio: state machine already claimed")

// buildTxProgram assembles the 8N1 transmitter
func buildTxProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                   // 0: pull block
		asm.Set(rp2pio.SetDestPins, 0).Delay(6).Encode(), // 1: set pins, 0 [6]  start bit
		asm.Set(rp2pio.SetDestX, 7).Encode(),             // 2: set x, 7
		// bitloop:
		asm.Out(rp2pio.OutDestPins, 1).Encode(),           // 3: out pins, 1
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Delay(6).Encode(), // 4: jmp x--, 3 [6]
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(),  // 5: set pins, 1 [7]  stop bit
		// .wrap
	}
}

// UARTTx is a transmit-only transport.Transceiver on a PIO state machine.
// The receive side reports no data, so a channel over it only writes.
type UARTTx struct {
	pio    *rp2pio.PIO
	hw     *rp.PIO0_Type
	sm     rp2pio.StateMachine
	pioNum uint8
	smNum  uint8
	pin    machine.Pin
	baud   uint32
	irq    interrupt.Interrupt

	ch *transport.Channel
}

var (
	// txUnits is the dispatch table consulted by the PIO interrupt shims
	txUnits [2][4]*UARTTx

	programLoaded [2]bool
	programOffset [2]uint8
)

func pio0Handler(interrupt.Interrupt) { dispatch(0) }
func pio1Handler(interrupt.Interrupt) { dispatch(1) }

func dispatch(pioNum int) {
	for _, u := range txUnits[pioNum] {
		if u != nil && u.hw.IRQ0_INTS.Get()&u.txnfull() != 0 {
			u.handle()
		}
	}
}

// NewUARTTx creates a transmitter on PIO block pioNum (0 or 1) and state
// machine smNum (0-3)
func NewUARTTx(pioNum, smNum uint8, pin machine.Pin, baud uint32) *UARTTx {
	u := &UARTTx{pioNum: pioNum & 1, smNum: smNum & 3, pin: pin, baud: baud}
	if u.pioNum == 0 {
		u.pio = rp2pio.PIO0
		u.hw = rp.PIO0
		u.irq = interrupt.New(rp.IRQ_PIO0_IRQ_0, pio0Handler)
	} else {
		u.pio = rp2pio.PIO1
		u.hw = rp.PIO1
		u.irq = interrupt.New(rp.IRQ_PIO1_IRQ_0, pio1Handler)
	}
	u.sm = u.pio.StateMachine(u.smNum)
	if u.baud == 0 {
		u.baud = 115200
	}
	return u
}

// Init loads the program (once per PIO block) and configures the state
// machine with the pin idling high. The state machine stays disabled until
// Start.
func (u *UARTTx) Init() error {
	if !u.sm.TryClaim() {
		return ErrNoStateMachine
	}

	program := buildTxProgram()
	if !programLoaded[u.pioNum] {
		offset, err := u.pio.AddProgram(program, txProgramOrigin)
		if err != nil {
			return err
		}
		programOffset[u.pioNum] = offset
		programLoaded[u.pioNum] = true
	}
	offset := programOffset[u.pioNum]

	u.pin.Configure(machine.PinConfig{Mode: u.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(u.pin, 1)
	cfg.SetOutPins(u.pin, 1)
	// shift right for LSB first; pull is explicit
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	whole, frac := clockDivider(machine.CPUFrequency(), u.baud)
	cfg.SetClkDivIntFrac(whole, frac)

	u.sm.Init(offset, cfg)
	u.sm.SetPindirsConsecutive(u.pin, 1, true)
	u.sm.SetPinsConsecutive(u.pin, 1, true)
	return nil
}

// Attach binds a channel to the transmitter and starts it.
// TxBurst defaults to the FIFO depth.
func (u *UARTTx) Attach(cfg transport.Config) *transport.Channel {
	if cfg.TxBurst <= 1 {
		cfg.TxBurst = FIFODepth
	}
	ch := transport.NewChannel(u, cfg)
	ch.SetGuard(u)
	u.ch = ch
	txUnits[u.pioNum][u.smNum] = u
	u.irq.SetPriority(0x80)
	u.irq.Enable()
	ch.Start()
	return ch
}

func (u *UARTTx) txnfull() uint32 {
	return rp.PIO0_IRQ0_INTE_SM0_TXNFULL << u.smNum
}

func (u *UARTTx) txempty() uint32 {
	return 1 << (rp.PIO0_FSTAT_TXEMPTY_Pos + uint32(u.smNum))
}

func (u *UARTTx) txstall() uint32 {
	return 1 << (rp.PIO0_FDEBUG_TXSTALL_Pos + uint32(u.smNum))
}

func (u *UARTTx) handle() {
	u.ch.OnTransmitInterrupt()
	if u.ch.IsWriteFinished() {
		u.hw.IRQ0_INTE.ClearBits(u.txnfull())
	}
}

// Do runs fn with this state machine's interrupt source masked
func (u *UARTTx) Do(fn func()) {
	mask := u.txnfull()
	state := interrupt.Disable()
	saved := u.hw.IRQ0_INTE.Get() & mask
	u.hw.IRQ0_INTE.ClearBits(mask)
	interrupt.Restore(state)
	defer u.hw.IRQ0_INTE.SetBits(saved)
	fn()
}

func (u *UARTTx) Start() {
	u.sm.SetEnabled(true)
}

func (u *UARTTx) Stop() {
	u.hw.IRQ0_INTE.ClearBits(u.txnfull())
	u.sm.SetEnabled(false)
}

// ClearTxQueue drops queued bytes and restarts the program at the pull,
// leaving the line high
func (u *UARTTx) ClearTxQueue() {
	u.sm.SetEnabled(false)
	u.sm.ClearFIFOs()
	u.sm.Restart()
	u.sm.SetPinsConsecutive(u.pin, 1, true)
	u.sm.SetEnabled(true)
}

func (u *UARTTx) ClearRxQueue() {}

// TxIsIdle reports whether the FIFO is empty and the state machine is
// stalled on its pull, which happens only after the stop bit
func (u *UARTTx) TxIsIdle() bool {
	return u.hw.FSTAT.Get()&u.txempty() != 0 && u.hw.FDEBUG.Get()&u.txstall() != 0
}

func (u *UARTTx) TxSlotAvailable() bool {
	return !u.sm.IsTxFIFOFull()
}

func (u *UARTTx) RxHasData() bool {
	return false
}

func (u *UARTTx) WriteData(b byte) {
	// TXSTALL is write-one-to-clear
	u.hw.FDEBUG.Set(u.txstall())
	u.sm.TxPut(uint32(b))
	u.hw.IRQ0_INTE.SetBits(u.txnfull())
}

func (u *UARTTx) ReadData() byte {
	return 0
}
