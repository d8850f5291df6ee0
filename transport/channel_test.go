package transport

import (
	"errors"
	"testing"
)

func newTestChannel(cfg Config) (*Channel, *fakeTransceiver) {
	fake := newFakeTransceiver(1)
	ch := NewChannel(fake, cfg)
	ch.SetIdle(func() {
		fake.shift()
		ch.OnTransmitInterrupt()
	})
	return ch, fake
}

func TestChannelDefaults(t *testing.T) {
	ch, _ := newTestChannel(Config{})

	if ch.Ring().Capacity() != DefaultRxCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultRxCapacity, ch.Ring().Capacity())
	}
	if ch.Delimiter() != '\n' {
		t.Errorf("Expected delimiter '\\n', got %q", ch.Delimiter())
	}
	if ch.Mode() != Blocking {
		t.Errorf("Expected blocking mode, got %v", ch.Mode())
	}
	if !ch.IsWriteFinished() {
		t.Error("New channel should not be sending")
	}
	if ch.Err() != nil {
		t.Errorf("Expected no error, got %v", ch.Err())
	}
}

func TestChannelStartClearsQueues(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())
	fake.rx = []byte("stale")
	fake.fifo = []byte("x")
	ch.Ring().OnByteReceived('y')

	ch.Start()

	if !fake.started {
		t.Error("Transceiver was not started")
	}
	if fake.rxClears != 1 || fake.txClears != 1 {
		t.Errorf("Expected one clear per queue, got rx=%d tx=%d", fake.rxClears, fake.txClears)
	}
	if ch.BytesAvailable() != 0 {
		t.Errorf("Expected empty ring, got %d bytes", ch.BytesAvailable())
	}

	ch.Stop()
	if fake.started {
		t.Error("Transceiver still running after Stop")
	}
}

func TestChannelReceiveInterrupt(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())
	fake.rx = []byte("ping\n")

	ch.OnReceiveInterrupt()

	if fake.RxHasData() {
		t.Error("Receive interrupt left data in the hardware")
	}
	if ch.CanReadLine() != 5 {
		t.Errorf("Expected line length 5, got %d", ch.CanReadLine())
	}

	buf := make([]byte, 16)
	n, err := ch.ReadLine(buf)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if string(buf[:n]) != "ping\n" || buf[n] != 0 {
		t.Errorf("Expected terminated \"ping\\n\", got %q", buf[:n+1])
	}
}

func TestChannelWriteBlocking(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())

	n, err := ch.WriteString("hello\n")
	if err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	if n != 6 {
		t.Errorf("Expected 6 bytes, got %d", n)
	}
	fake.shift()
	if string(fake.wire) != "hello\n" {
		t.Errorf("Expected \"hello\\n\" on the wire, got %q", fake.wire)
	}
	if !ch.TxIsIdle() {
		t.Error("Channel should be idle after the wire drained")
	}
}

func TestChannelWriteByte(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())

	for _, b := range []byte("ok") {
		if err := ch.WriteByte(b); err != nil {
			t.Fatalf("WriteByte failed: %v", err)
		}
		fake.shift()
	}
	if string(fake.wire) != "ok" {
		t.Errorf("Expected \"ok\", got %q", fake.wire)
	}
}

func TestChannelWriteByteBusy(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())
	ch.SetMode(NonBlocking)

	ch.Write([]byte("long"))
	if err := ch.WriteByte('x'); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if len(fake.fifo) != 1 {
		t.Errorf("Busy WriteByte touched the hardware: %q", fake.fifo)
	}
	if ch.TxIsIdle() {
		t.Error("Channel reported idle while sending")
	}
}

func TestChannelClearTx(t *testing.T) {
	ch, fake := newTestChannel(DefaultConfig())
	ch.SetMode(NonBlocking)

	ch.Write([]byte("abandon"))
	ch.ClearTx()

	if !ch.IsWriteFinished() {
		t.Error("ClearTx should finish the transmission")
	}
	if len(fake.fifo) != 0 || fake.txClears != 1 {
		t.Errorf("Expected cleared FIFO, got %q after %d clears", fake.fifo, fake.txClears)
	}
	if _, err := ch.Write([]byte("next")); err != nil {
		t.Errorf("Write after ClearTx failed: %v", err)
	}
}

func TestChannelClearRx(t *testing.T) {
	ch, fake := newTestChannel(Config{RxCapacity: 4})
	fake.rx = []byte("overflowing")

	ch.OnReceiveInterrupt()
	if !ch.IsOverflowed() {
		t.Fatal("Expected overflow")
	}
	if !errors.Is(ch.Err(), ErrOverflow) {
		t.Errorf("Expected ErrOverflow, got %v", ch.Err())
	}
	if ch.CanReadLine() != LineOverflow {
		t.Errorf("Expected LineOverflow, got %d", ch.CanReadLine())
	}

	ch.ClearRx()
	if ch.IsOverflowed() || ch.Err() != nil {
		t.Error("ClearRx should reset the overflow flag")
	}
	if ch.IsReadable() {
		t.Error("ClearRx should empty the ring")
	}
	if fake.rxClears != 1 {
		t.Errorf("Expected hardware receive queue cleared once, got %d", fake.rxClears)
	}
}

func TestChannelDelimiter(t *testing.T) {
	ch, fake := newTestChannel(Config{Delimiter: ';'})
	fake.rx = []byte("a\nb;c")
	ch.OnReceiveInterrupt()

	if ch.CanReadLine() != 4 {
		t.Errorf("Expected line length 4, got %d", ch.CanReadLine())
	}

	ch.SetDelimiter('\n')
	if ch.CanReadLine() != 2 {
		t.Errorf("Expected line length 2 after SetDelimiter, got %d", ch.CanReadLine())
	}
}

func TestChannelDeadline(t *testing.T) {
	ch, _ := newTestChannel(DefaultConfig())
	ch.SetIdle(func() {})

	armed := 0
	ch.SetDeadline(func() TimeoutFunc {
		armed++
		return idleAfter(2)
	})

	for i := 0; i < 2; i++ {
		if _, err := ch.ReadByte(); !errors.Is(err, ErrTimeout) {
			t.Errorf("Expected ErrTimeout, got %v", err)
		}
	}
	if armed != 2 {
		t.Errorf("Expected a fresh deadline per call, armed %d times", armed)
	}

	// A fixed timeout takes precedence
	ch.SetTimeout(idleAfter(0))
	ch.Read(make([]byte, 1))
	if armed != 2 {
		t.Errorf("Deadline armed despite fixed timeout: %d", armed)
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{Blocking, "blocking"},
		{NonBlocking, "nonblocking"},
		{Mode(7), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
