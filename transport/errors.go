package transport

import "errors"

var (
	// ErrBusy is returned by Write while a previous transmission drains
	ErrBusy = errors.New("transmission in progress")

	// ErrTimeout is returned when the timeout predicate fires during a wait.
	// The accompanying count reports the progress made before it fired.
	ErrTimeout = errors.New("timeout")

	// ErrOverflow reports that received bytes were dropped since the last ClearRx
	ErrOverflow = errors.New("receive buffer overflow")

	// ErrBadLine is returned by ReadLine when overflow was observed before
	// the delimiter
	ErrBadLine = errors.New("line truncated by receive overflow")

	// ErrNoBuffer is returned by ReadLine for a zero-length buffer
	ErrNoBuffer = errors.New("line buffer is empty")
)
