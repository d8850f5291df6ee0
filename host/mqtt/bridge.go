package mqtt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"isrlink/host/config"
	"isrlink/transport"
)

// Client is the part of paho.Client the bridge uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Channel is the part of transport.Channel the bridge uses
type Channel interface {
	CanReadLine() int
	ReadLine(p []byte) (int, error)
	ClearRx()
	Write(p []byte) (int, error)
	CanWrite() bool
}

// Bridge defaults
const (
	DefaultLineSize     = 256
	DefaultPollInterval = time.Millisecond
	DefaultQueueDepth   = 16
	PublishTimeout      = 5 * time.Second
)

// Bridge moves lines between a Channel and MQTT topics.
//
// Lines read from the channel are published to <topic>/rx. Payloads
// published to <topic>/tx are written to the channel in arrival order. The
// channel is only touched from Run; paho callbacks merely queue payloads.
type Bridge struct {
	ch    Channel
	topic string
	qos   byte

	mu     sync.Mutex
	client Client

	incoming  chan []byte
	line      []byte
	lines     atomic.Uint64
	writes    atomic.Uint64
	overflows atomic.Uint64
	dropped   atomic.Uint64
}

// NewBridge creates a bridge for ch under topic
func NewBridge(ch Channel, topic string) *Bridge {
	return &Bridge{
		ch:       ch,
		topic:    topic,
		incoming: make(chan []byte, DefaultQueueDepth),
		line:     make([]byte, DefaultLineSize+1),
	}
}

// RxTopic is where received lines are published
func (b *Bridge) RxTopic() string { return b.topic + "/rx" }

// TxTopic is where payloads to transmit are expected
func (b *Bridge) TxTopic() string { return b.topic + "/tx" }

// Connect dials the broker described by cfg and attaches the client on
// every (re)connect
func (b *Bridge) Connect(cfg config.MQTTConfig) error {
	_, err := Connect(cfg, func(c paho.Client) { b.Attach(c) })
	return err
}

// Attach makes c the publishing client and subscribes to the transmit topic.
// It does not wait for the subscription, so it is safe in paho callbacks.
func (b *Bridge) Attach(c Client) paho.Token {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	glog.V(2).Infof("SUB %q", b.TxTopic())
	return c.Subscribe(b.TxTopic(), b.qos, b.onMessage)
}

// Close disconnects the client if it supports it
func (b *Bridge) Close() error {
	b.mu.Lock()
	c := b.client
	b.client = nil
	b.mu.Unlock()
	if d, ok := c.(interface{ Disconnect(quiesce uint) }); ok {
		d.Disconnect(250)
	}
	return nil
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	glog.V(2).Infof("RCV %q", msg.Topic())
	b.enqueue(msg.Payload())
}

func (b *Bridge) enqueue(payload []byte) {
	// the channel borrows the buffer until the write drains
	buf := append([]byte(nil), payload...)
	select {
	case b.incoming <- buf:
	default:
		b.dropped.Add(1)
		glog.Warningf("mqtt: transmit queue full, dropped %d bytes", len(buf))
	}
}

// Run services the channel until ctx is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-b.incoming:
			b.write(ctx, payload)
		case <-ticker.C:
			b.pollLines()
		}
	}
}

func (b *Bridge) pollLines() {
	for {
		switch n := b.ch.CanReadLine(); {
		case n == transport.LineOverflow:
			glog.Warningf("mqtt: receive ring overflowed, discarding buffered data")
			b.ch.ClearRx()
			b.overflows.Add(1)
			return
		case n == 0:
			return
		}

		n, err := b.ch.ReadLine(b.line)
		if err != nil {
			glog.Warningf("mqtt: read line: %v", err)
			return
		}
		b.lines.Add(1)
		b.publish(append([]byte(nil), b.line[:n]...))
	}
}

func (b *Bridge) publish(line []byte) {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()
	if c == nil {
		glog.V(2).Infof("mqtt: not connected, dropped line %q", line)
		return
	}

	glog.V(2).Infof("PUB %q %q", b.RxTopic(), line)
	token := c.Publish(b.RxTopic(), b.qos, false, line)
	if !token.WaitTimeout(PublishTimeout) {
		glog.Warningf("mqtt: publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		glog.Warningf("mqtt: publish: %v", err)
	}
}

// write retries while the previous transmission is still draining
func (b *Bridge) write(ctx context.Context, payload []byte) {
	for {
		_, err := b.ch.Write(payload)
		switch {
		case err == nil:
			b.writes.Add(1)
			return
		case errors.Is(err, transport.ErrBusy):
			if !b.waitWritable(ctx) {
				return
			}
		default:
			glog.Warningf("mqtt: write %d bytes: %v", len(payload), err)
			return
		}
	}
}

func (b *Bridge) waitWritable(ctx context.Context) bool {
	for !b.ch.CanWrite() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(DefaultPollInterval):
		}
	}
	return true
}

// Stats reports lines published, payloads written, overflows seen and
// payloads dropped
func (b *Bridge) Stats() (lines, writes, overflows, dropped uint64) {
	return b.lines.Load(), b.writes.Load(), b.overflows.Load(), b.dropped.Load()
}
