package transport

// fakeTransceiver records written bytes and models a transmit FIFO of
// fixed depth. Tests raise transmit events by hand.
type fakeTransceiver struct {
	started  bool
	depth    int
	fifo     []byte
	wire     []byte
	rx       []byte
	txClears int
	rxClears int
}

func newFakeTransceiver(depth int) *fakeTransceiver {
	return &fakeTransceiver{depth: depth}
}

func (f *fakeTransceiver) Start()        { f.started = true }
func (f *fakeTransceiver) Stop()         { f.started = false }
func (f *fakeTransceiver) ClearTxQueue() { f.fifo = f.fifo[:0]; f.txClears++ }
func (f *fakeTransceiver) ClearRxQueue() { f.rx = f.rx[:0]; f.rxClears++ }
func (f *fakeTransceiver) TxIsIdle() bool {
	return len(f.fifo) == 0
}
func (f *fakeTransceiver) TxSlotAvailable() bool {
	return len(f.fifo) < f.depth
}
func (f *fakeTransceiver) RxHasData() bool {
	return len(f.rx) > 0
}
func (f *fakeTransceiver) WriteData(b byte) {
	f.fifo = append(f.fifo, b)
}
func (f *fakeTransceiver) ReadData() byte {
	b := f.rx[0]
	f.rx = f.rx[1:]
	return b
}

// shift moves everything in the FIFO onto the wire
func (f *fakeTransceiver) shift() {
	f.wire = append(f.wire, f.fifo...)
	f.fifo = f.fifo[:0]
}

// countingGuard counts how often the interrupt context was excluded
type countingGuard struct {
	entered int
	exited  int
}

func (g *countingGuard) Do(fn func()) {
	g.entered++
	defer func() { g.exited++ }()
	fn()
}

// idleAfter returns a timeout predicate that fires after n polls
func idleAfter(n int) TimeoutFunc {
	polls := 0
	return func() bool {
		polls++
		return polls > n
	}
}
