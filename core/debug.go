package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a transport event for post-mortem analysis.
// Events are recorded from both interrupt and mainline context, so recording
// never allocates and never blocks.
type Event struct {
	Type   uint8  // Event type code
	Unit   uint8  // Transceiver unit the event belongs to
	Clock  uint32 // System clock at event
	Value1 uint32 // Context-dependent value
	Value2 uint32 // Context-dependent value
}

// Event type codes
const (
	EvtRxOverflow = 1 // Byte dropped, ring full (value1=read index)
	EvtRxClear    = 2 // Receive ring cleared (value1=bytes discarded)
	EvtRxTimeout  = 3 // Blocking read timed out (value1=bytes copied)
	EvtTxStart    = 4 // Transmission primed (value1=length)
	EvtTxBusy     = 5 // Write rejected, transmission in flight (value1=sent, value2=length)
	EvtTxTimeout  = 6 // Blocking write timed out (value1=sent, value2=length)
	EvtTxDone     = 7 // Transmission finished (value1=length)
	EvtTxAbort    = 8 // Transmission abandoned by ClearTx (value1=sent, value2=length)
	EvtBadLine    = 9 // Line read hit overflow before the delimiter (value1=bytes copied)
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventsEnabled bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetEventsEnabled enables or disables event capture
func SetEventsEnabled(enabled bool) {
	eventsEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the ring buffer.
// The head index is updated with interrupts masked because both contexts
// record events.
func RecordEvent(eventType, unit uint8, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	state := lockEvents()
	idx := eventRingHead
	eventRingHead = (idx + 1) % EventRingSize
	eventRing[idx] = Event{
		Type:   eventType,
		Unit:   unit,
		Clock:  GetTime(),
		Value1: value1,
		Value2: value2,
	}
	unlockEvents(state)
}

// Events returns the recorded events, oldest first
func Events() []Event {
	out := make([]Event, 0, EventRingSize)
	state := lockEvents()
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Type == 0 {
			continue
		}
		out = append(out, evt)
	}
	unlockEvents(state)
	return out
}

// EventName returns a short printable name for an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtRxOverflow:
		return "RX_OVERFLOW!"
	case EvtRxClear:
		return "RX_CLEAR"
	case EvtRxTimeout:
		return "RX_TIMEOUT"
	case EvtTxStart:
		return "TX_START"
	case EvtTxBusy:
		return "TX_BUSY"
	case EvtTxTimeout:
		return "TX_TIMEOUT"
	case EvtTxDone:
		return "TX_DONE"
	case EvtTxAbort:
		return "TX_ABORT"
	case EvtBadLine:
		return "BAD_LINE"
	default:
		return "UNKNOWN"
	}
}

// FormatEvent renders an event as a single debug line
func FormatEvent(evt Event) string {
	return "[EVENT] " + EventName(evt.Type) +
		" unit=" + itoa(int(evt.Unit)) +
		" clock=" + utoa(evt.Clock) +
		" v1=" + utoa(evt.Value1) +
		" v2=" + utoa(evt.Value2)
}

// DumpEventRing outputs the event ring buffer (call on shutdown/error)
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENT] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln(FormatEvent(evt))
	}
	debugPrintln("[EVENT] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	state := lockEvents()
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
	unlockEvents(state)
}
