//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// DisableInterrupts is a no-op on regular Go (for testing)
func DisableInterrupts() State {
	return 0
}

// RestoreInterrupts is a no-op on regular Go (for testing)
func RestoreInterrupts(state State) {
	// No-op
}

// eventMu stands in for interrupt masking around the event ring, where the
// simulated interrupt context is a separate goroutine
var eventMu sync.Mutex

func lockEvents() State {
	eventMu.Lock()
	return 0
}

func unlockEvents(State) {
	eventMu.Unlock()
}
