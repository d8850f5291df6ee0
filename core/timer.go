package core

// Timer frequencies for common MCUs
const (
	TimerFreq = 1000000 // 1MHz, matches the RP2040 microsecond timer
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// AdvanceTime moves the system time forward (for testing/hardware integration)
func AdvanceTime(ticks uint32) {
	setSystemTicks(getSystemTicks() + ticks)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimeoutAfter returns a predicate that reports true once us microseconds
// of timer ticks have elapsed since the call.
// Comparison is done on the tick difference so counter wraparound is safe.
func TimeoutAfter(us uint32) func() bool {
	start := GetTime()
	limit := TimerFromUS(us)
	return func() bool {
		return GetTime()-start >= limit
	}
}
