package core

import "runtime"

// Idle is the default idle-wait primitive used while mainline code busy-waits.
// On TinyGo this lets the scheduler run pending goroutines; interrupts are
// delivered independently of it.
func Idle() {
	runtime.Gosched()
}
