//go:build tinygo

package core

import "runtime/volatile"

var (
	softTicks  volatile.Register32
	tickSource func() uint32
)

// SetTickSource makes GetTime read a free-running hardware counter instead
// of the value maintained with SetTime. Targets call it once during init.
func SetTickSource(fn func() uint32) {
	tickSource = fn
}

func getSystemTicks() uint32 {
	if tickSource != nil {
		return tickSource()
	}
	return softTicks.Get()
}

func setSystemTicks(ticks uint32) {
	softTicks.Set(ticks)
}
