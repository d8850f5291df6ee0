package core

import "testing"

func TestCriticalRestoresOnPanic(t *testing.T) {
	ran := false
	func() {
		defer func() { recover() }()
		Critical(func() {
			ran = true
			panic("boom")
		})
	}()
	if !ran {
		t.Error("Critical section did not run")
	}

	// A second section must still be enterable
	entered := false
	InterruptGuard{}.Do(func() { entered = true })
	if !entered {
		t.Error("Guard did not run after a panic")
	}
}
