package core

// Critical runs fn with interrupts disabled.
// The previous interrupt state is restored on every exit path, including a
// panic inside fn.
func Critical(fn func()) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	fn()
}

// InterruptGuard masks every interrupt source for the duration of a
// compound update. Targets that can mask a single peripheral interrupt
// should provide their own guard instead.
type InterruptGuard struct{}

// Do runs fn inside a global critical section
func (InterruptGuard) Do(fn func()) {
	Critical(fn)
}
