//go:build tinygo

package core

import "runtime/interrupt"

// State is the saved interrupt mask returned by DisableInterrupts
type State = interrupt.State

// DisableInterrupts disables interrupts and returns the previous state
func DisableInterrupts() State {
	return interrupt.Disable()
}

// RestoreInterrupts restores the interrupt state
func RestoreInterrupts(state State) {
	interrupt.Restore(state)
}

func lockEvents() State {
	return interrupt.Disable()
}

func unlockEvents(state State) {
	interrupt.Restore(state)
}
