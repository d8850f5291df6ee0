package serial

import (
	"errors"
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Raw Linux tty (FilePort, using golang.org/x/sys/unix)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush waits until buffered output was transmitted
	Flush() error
}

// queueFlusher is implemented by ports that can discard their kernel queues
type queueFlusher interface {
	FlushInput() error
	FlushOutput() error
}

// outputQueue is implemented by ports that can report untransmitted bytes
type outputQueue interface {
	OutQueue() (int, error)
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for a 115200 baud UART
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100, // 100ms read timeout
	}
}

// ErrNilConfig is returned when a port is opened without configuration
var ErrNilConfig = errors.New("config cannot be nil")
