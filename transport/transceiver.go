package transport

// Transceiver is the per-unit hardware contract.
//
// WriteData and ReadData move a single byte through the data register.
// ReadData is only called after RxHasData reported true. The channel calls
// the status methods from both contexts, so they must not block.
type Transceiver interface {
	Start()
	Stop()
	ClearTxQueue()
	ClearRxQueue()
	TxIsIdle() bool
	TxSlotAvailable() bool
	RxHasData() bool
	WriteData(b byte)
	ReadData() byte
}
