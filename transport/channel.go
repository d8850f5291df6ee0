package transport

// Channel is one duplex byte stream bound to one Transceiver.
//
// The hardware unit's receive interrupt must call OnReceiveInterrupt and its
// transmit interrupt OnTransmitInterrupt. Every other method is mainline
// only and must not be called from more than one goroutine at a time.
type Channel struct {
	tx        Transceiver
	rx        *ReceiveRing
	seq       *TransmitSequencer
	delimiter byte
	h         *hooks

	one [1]byte // borrowed by WriteByte
}

// NewChannel creates a channel over tx.
// Interrupt handlers can be bound as soon as it returns; call Start to
// enable the transceiver.
func NewChannel(tx Transceiver, cfg Config) *Channel {
	cfg.applyDefaults()
	h := newHooks(cfg.Unit)
	return &Channel{
		tx:        tx,
		rx:        newReceiveRing(cfg.RxCapacity, h),
		seq:       newTransmitSequencer(tx, cfg.Mode, cfg.TxBurst, h),
		delimiter: cfg.Delimiter,
		h:         h,
	}
}

// SetGuard sets the guard that excludes this channel's interrupts.
// It must be set before the interrupts are enabled.
func (c *Channel) SetGuard(g Guard) {
	c.h.guard = g
}

// SetIdle sets the idle primitive called while blocking
func (c *Channel) SetIdle(idle IdleFunc) {
	c.h.idle = idle
}

// SetTimeout sets a fixed timeout predicate for blocking calls.
// It takes precedence over SetDeadline; nil removes it.
func (c *Channel) SetTimeout(timeout TimeoutFunc) {
	c.h.timeout = timeout
}

// SetDeadline sets a factory that arms a fresh timeout predicate at the
// start of every blocking call. nil removes it.
func (c *Channel) SetDeadline(arm func() TimeoutFunc) {
	c.h.deadline = arm
}

// Ring returns the receive ring
func (c *Channel) Ring() *ReceiveRing {
	return c.rx
}

// Sequencer returns the transmit sequencer
func (c *Channel) Sequencer() *TransmitSequencer {
	return c.seq
}

// Start starts the transceiver and discards anything queued
func (c *Channel) Start() {
	c.tx.Start()
	c.tx.ClearRxQueue()
	c.tx.ClearTxQueue()
	c.rx.Clear()
}

// Stop abandons any transmission and stops the transceiver
func (c *Channel) Stop() {
	c.seq.Abort()
	c.tx.Stop()
}

// OnReceiveInterrupt moves every byte the hardware holds into the ring.
// Call it from the unit's receive interrupt.
func (c *Channel) OnReceiveInterrupt() {
	for c.tx.RxHasData() {
		c.rx.OnByteReceived(c.tx.ReadData())
	}
}

// OnTransmitInterrupt continues the transmission in flight.
// Call it from the unit's transmit interrupt.
func (c *Channel) OnTransmitInterrupt() {
	c.seq.OnTxSlotAvailable()
}

// Write transmits p. See TransmitSequencer.Start for the results.
// p is borrowed until IsWriteFinished reports true.
func (c *Channel) Write(p []byte) (int, error) {
	return c.seq.Start(p)
}

// WriteString transmits s.
// It copies s into a new slice on every call; firmware that must not
// allocate should Write from a static buffer instead.
func (c *Channel) WriteString(s string) (int, error) {
	return c.seq.Start([]byte(s))
}

// WriteByte transmits a single byte
func (c *Channel) WriteByte(b byte) error {
	// c.one may still be borrowed by the previous WriteByte
	if !c.seq.IsFinished() {
		return c.seq.busy()
	}
	c.one[0] = b
	_, err := c.seq.Start(c.one[:])
	return err
}

// IsWriteFinished reports whether the last Write has drained
func (c *Channel) IsWriteFinished() bool {
	return c.seq.IsFinished()
}

// CanWrite reports whether a Write would be accepted now: nothing is in
// flight and the transceiver has room for the priming byte
func (c *Channel) CanWrite() bool {
	return c.seq.IsFinished() && c.tx.TxSlotAvailable()
}

// Read waits for data and returns what is buffered, up to len(p)
func (c *Channel) Read(p []byte) (int, error) {
	return c.rx.Read(p)
}

// ReadFull waits until len(p) bytes were read
func (c *Channel) ReadFull(p []byte) (int, error) {
	return c.rx.ReadFull(p)
}

// ReadNonBlocking returns whatever is buffered, up to len(p)
func (c *Channel) ReadNonBlocking(p []byte) int {
	return c.rx.ReadNonBlocking(p)
}

// ReadByte waits for a single byte
func (c *Channel) ReadByte() (byte, error) {
	return c.rx.ReadByte()
}

// ReadLine reads up to and including the delimiter into p and terminates
// it with a 0 byte. After an overflow it returns ErrBadLine until ClearRx.
// See ReceiveRing.ReadLine.
func (c *Channel) ReadLine(p []byte) (int, error) {
	return c.rx.ReadLine(p, c.delimiter)
}

// CanReadLine returns the length of the first buffered line including the
// delimiter, 0 if no complete line is buffered, or LineOverflow
func (c *Channel) CanReadLine() int {
	return c.rx.PeekLineLength(c.delimiter)
}

// BytesAvailable returns the number of buffered bytes
func (c *Channel) BytesAvailable() int {
	return c.rx.BytesAvailable()
}

// IsReadable reports whether at least one byte is buffered
func (c *Channel) IsReadable() bool {
	return c.rx.IsReadable()
}

// IsOverflowed reports whether received bytes were dropped since ClearRx
func (c *Channel) IsOverflowed() bool {
	return c.rx.Overflowed()
}

// Err returns ErrOverflow while the overflow flag is set
func (c *Channel) Err() error {
	if c.rx.Overflowed() {
		return ErrOverflow
	}
	return nil
}

// ClearRx empties the hardware receive queue and the ring and resets the
// overflow flag
func (c *Channel) ClearRx() {
	c.tx.ClearRxQueue()
	c.rx.Clear()
}

// ClearTx abandons the transmission in flight and empties the hardware
// transmit queue
func (c *Channel) ClearTx() {
	c.seq.Abort()
	c.tx.ClearTxQueue()
}

// SetMode selects blocking or non-blocking writes
func (c *Channel) SetMode(mode Mode) {
	c.seq.SetMode(mode)
}

// Mode returns the current write mode
func (c *Channel) Mode() Mode {
	return c.seq.Mode()
}

// SetDelimiter sets the line delimiter
func (c *Channel) SetDelimiter(delim byte) {
	c.delimiter = delim
}

// Delimiter returns the line delimiter
func (c *Channel) Delimiter() byte {
	return c.delimiter
}

// TxIsIdle reports whether the hardware has shifted out every byte
func (c *Channel) TxIsIdle() bool {
	return c.seq.IsFinished() && c.tx.TxIsIdle()
}
