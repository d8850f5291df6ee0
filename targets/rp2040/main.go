//go:build rp2040

package main

import (
	"machine"

	"isrlink/core"
	"isrlink/targets/pio"
	"isrlink/transport"
)

const (
	baud          = 115200
	lineSize      = 128
	readTimeoutUS = 5000000 // give up on a partial line after 5s
	tapPin        = machine.GPIO2
)

var (
	line   [lineSize]byte
	mirror [lineSize]byte

	linesEchoed uint32
	badLines    uint32
)

// Line echo firmware: every line received on UART0 is written back, and
// copied to a PIO transmitter on tapPin for a logic analyser or second host.
// "stats" reports counters instead of echoing.
func main() {
	InitClock()

	core.SetDebugWriter(func(s string) {
		machine.Serial.Write([]byte(s))
		machine.Serial.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()

	uart := NewPL011(0, machine.UART0_TX_PIN, machine.UART0_RX_PIN, baud)
	uart.Configure()
	ch := uart.Attach(transport.DefaultConfig())
	ch.SetDeadline(transport.DeadlineUS(readTimeoutUS))

	var tap *transport.Channel
	tx := pio.NewUARTTx(0, 0, tapPin, baud)
	if err := tx.Init(); err != nil {
		core.DebugPrintln("pio tap disabled: " + err.Error())
	} else {
		tap = tx.Attach(transport.Config{Mode: transport.NonBlocking})
	}

	core.DebugPrintln("isrlink echo ready")

	for {
		n, err := ch.ReadLine(line[:])
		switch err {
		case nil:
		case transport.ErrTimeout:
			if n == 0 {
				continue
			}
			// echo the partial line so the sender sees what arrived
		case transport.ErrBadLine:
			badLines++
			core.DebugAsync("line dropped, overruns=" + itoa(int(uart.Overruns())))
			if core.IsDebugEnabled() {
				core.DumpEventRing()
			}
			ch.ClearRx()
			continue
		default:
			core.DebugAsync("read: " + err.Error())
			continue
		}

		reply := line[:n]
		if isCommand(reply, "stats") {
			reply = stats(line[:0])
		}

		if _, err := ch.Write(reply); err != nil {
			core.DebugAsync("write: " + err.Error())
			ch.ClearTx()
			continue
		}
		linesEchoed++

		// the tap drops lines while the previous one is still shifting out
		if tap != nil && tap.CanWrite() {
			m := copy(mirror[:], reply)
			tap.Write(mirror[:m])
		}
	}
}

// isCommand reports whether p is cmd followed by a line ending
func isCommand(p []byte, cmd string) bool {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return string(p) == cmd
}

// stats appends the counters to p as one line
func stats(p []byte) []byte {
	p = append(p, "echoed="...)
	p = append(p, itoa(int(linesEchoed))...)
	p = append(p, " bad="...)
	p = append(p, itoa(int(badLines))...)
	p = append(p, " uptime_ms="...)
	p = append(p, itoa(int(GetHardwareUptime()/1000))...)
	p = append(p, '\n')
	return p
}

// itoa converts int to string without importing strconv (for embedded)
func itoa(i int) string {
	if i == 0 {
		return "0"
	}

	negative := i < 0
	if negative {
		i = -i
	}

	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}

	if negative {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}
