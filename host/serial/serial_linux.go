//go:build linux

package serial

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FilePort is a raw Linux tty opened without tarm/serial.
// Besides Port it can discard its kernel queues and report how many bytes
// are still waiting to be shifted out, which Pump uses for ClearTxQueue,
// ClearRxQueue and TxIsIdle.
type FilePort struct {
	file *os.File
}

// OpenFile opens cfg.Device in raw 8N1 mode
func OpenFile(cfg *Config) (*FilePort, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	// O_NONBLOCK keeps the descriptor on the runtime poller so Close
	// unblocks a pending Read
	file, err := os.OpenFile(cfg.Device, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	p := &FilePort{file: file}
	if err := p.control(func(fd int) error { return makeRaw(fd, cfg.Baud) }); err != nil {
		file.Close()
		return nil, fmt.Errorf("configure %s: %w", cfg.Device, err)
	}
	return p, nil
}

func makeRaw(fd int, baud int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	termios.Cflag |= unix.CS8 | baudToUnix(baud)

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B115200
	}
}

// control runs fn on the raw descriptor without leaving the poller
func (p *FilePort) control(fn func(fd int) error) error {
	rc, err := p.file.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) { ferr = fn(int(fd)) }); err != nil {
		return err
	}
	return ferr
}

// Read reads data from the tty
func (p *FilePort) Read(b []byte) (int, error) {
	return p.file.Read(b)
}

// Write writes data to the tty
func (p *FilePort) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Close closes the tty, unblocking any pending Read
func (p *FilePort) Close() error {
	return p.file.Close()
}

// Flush waits until the output queue drained (tcdrain)
func (p *FilePort) Flush() error {
	return p.control(func(fd int) error {
		return unix.IoctlSetInt(fd, unix.TCSBRK, 1)
	})
}

// FlushInput discards received bytes not yet read
func (p *FilePort) FlushInput() error {
	return p.control(func(fd int) error {
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
	})
}

// FlushOutput discards written bytes not yet transmitted
func (p *FilePort) FlushOutput() error {
	return p.control(func(fd int) error {
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCOFLUSH)
	})
}

// OutQueue returns the number of bytes waiting in the kernel output queue
func (p *FilePort) OutQueue() (int, error) {
	var n int
	err := p.control(func(fd int) error {
		var err error
		n, err = unix.IoctlGetInt(fd, unix.TIOCOUTQ)
		return err
	})
	return n, err
}

// Name returns the device path
func (p *FilePort) Name() string {
	return p.file.Name()
}
