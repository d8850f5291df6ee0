package serial

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isrlink/transport"
)

// pipePort is one end of an in-memory full duplex connection
type pipePort struct {
	net.Conn
}

func (pipePort) Flush() error { return nil }

func newPipe(t *testing.T) (*pipePort, net.Conn) {
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })
	return &pipePort{local}, remote
}

func runPump(t *testing.T, p *Pump) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestPumpReceivesLines(t *testing.T) {
	port, remote := newPipe(t)
	p := NewPump(port, 0)
	ch := p.Attach(transport.DefaultConfig())
	ch.SetDeadline(transport.DeadlineAfter(2 * time.Second))
	ch.Start()
	runPump(t, p)

	go remote.Write([]byte("hello\n"))

	buf := make([]byte, 32)
	n, err := ch.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(buf[:n]))
	require.Equal(t, byte(0), buf[n])
}

func TestPumpTransmits(t *testing.T) {
	port, remote := newPipe(t)
	p := NewPump(port, 4)
	ch := p.Attach(transport.DefaultConfig())
	ch.SetDeadline(transport.DeadlineAfter(2 * time.Second))
	ch.Start()
	runPump(t, p)

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 12)
		if _, err := io.ReadFull(remote, buf); err == nil {
			received <- string(buf)
		}
	}()

	n, err := ch.WriteString("hello world\n")
	require.NoError(t, err)
	require.Equal(t, 12, n)

	select {
	case msg := <-received:
		require.Equal(t, "hello world\n", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for remote to receive")
	}
	require.Eventually(t, ch.TxIsIdle, time.Second, time.Millisecond)
}

func TestPumpRunStopsOnCancel(t *testing.T) {
	port, _ := newPipe(t)
	p := NewPump(port, 0)
	p.Attach(transport.DefaultConfig()).Start()
	cancel, done := runPump(t, p)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPumpRunEndsOnEOF(t *testing.T) {
	port, remote := newPipe(t)
	p := NewPump(port, 0)
	p.Attach(transport.DefaultConfig()).Start()
	_, done := runPump(t, p)

	remote.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the remote closed")
	}
}

func TestPumpDropsWhileStopped(t *testing.T) {
	port, _ := newPipe(t)
	p := NewPump(port, 0)
	ch := p.Attach(transport.DefaultConfig())

	p.deliver([]byte("early"))
	require.False(t, p.RxHasData())

	ch.Start()
	p.deliver([]byte("ok"))
	require.Equal(t, 2, ch.BytesAvailable())
}

func TestPumpTransmitQueue(t *testing.T) {
	port, _ := newPipe(t)
	p := NewPump(port, 2)

	require.True(t, p.TxIsIdle())
	p.WriteData('a')
	require.True(t, p.TxSlotAvailable())
	require.False(t, p.TxIsIdle())
	p.WriteData('b')
	require.False(t, p.TxSlotAvailable())

	// the queue is full, so this byte is lost
	p.WriteData('c')
	require.Len(t, p.txq, 2)

	p.ClearTxQueue()
	require.True(t, p.TxIsIdle())
	require.True(t, p.TxSlotAvailable())
}

func TestPumpClearRxQueue(t *testing.T) {
	port, _ := newPipe(t)
	p := NewPump(port, 0)
	p.Start()

	p.deliver([]byte("xyz"))
	require.Equal(t, byte('x'), p.ReadData())
	p.ClearRxQueue()
	require.False(t, p.RxHasData())
	require.Equal(t, byte(0), p.ReadData())
}
