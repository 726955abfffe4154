// UART-with-line-inversion backend: drives a real UART at 250,000 8-N-2
// for the data bytes, and produces BREAK by holding the line with the
// raw TIOCSBRK/TIOCCBRK ioctls. Most UARTs cannot time a break shorter
// than one character at the configured rate, so the break duration is
// controlled from software between the two ioctls.
package output

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"periph.io/x/conn/v3/gpio"
)

// baud250000 has no POSIX Bxxx constant; Linux accepts arbitrary rates
// via termios2 + BOTHER.
const baud250000 = 250000

// UARTInvertBackend transmits a DMX512 frame over a real UART, driving a
// driver-enable GPIO around the transmission and bracketing the frame
// with a raw line-level BREAK/MAB.
type UARTInvertBackend struct {
	file *os.File
	fd   int
	de   gpio.PinIO // driver-enable; nil if the transceiver is always enabled
}

// NewUARTInvertBackend opens the given tty device and configures it for
// 250,000 8-N-2. de may be nil for transceivers without a software
// driver-enable line.
func NewUARTInvertBackend(devicePath string, de gpio.PinIO) (*UARTInvertBackend, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uartinvert: open %s: %w", devicePath, err)
	}
	fd := int(f.Fd())

	if err := configureTermios(fd); err != nil {
		f.Close()
		return nil, fmt.Errorf("uartinvert: configure termios: %w", err)
	}

	if de != nil {
		if err := de.Out(gpio.Low); err != nil {
			f.Close()
			return nil, fmt.Errorf("uartinvert: driver-enable idle-low: %w", err)
		}
	}

	return &UARTInvertBackend{file: f, fd: fd, de: de}, nil
}

func configureTermios(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CSTOPB | unix.CLOCAL | unix.CREAD // 8 data bits, 2 stop bits
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return err
	}
	return setCustomBaud(fd, baud250000)
}

// Submit drives DE high, brackets the frame with a raw line BREAK/MAB
// via TIOCSBRK/TIOCCBRK, writes the 513-byte frame, waits for the UART
// to finish draining, then drops DE.
func (b *UARTInvertBackend) Submit(frame Frame, timing TimingUS) error {
	if b.de != nil {
		if err := b.de.Out(gpio.High); err != nil {
			return fmt.Errorf("uartinvert: driver-enable high: %w", err)
		}
		defer b.de.Out(gpio.Low)
	}

	if err := unix.IoctlSetInt(b.fd, unix.TIOCSBRK, 0); err != nil {
		return fmt.Errorf("uartinvert: assert break: %w", err)
	}
	sleepUS(timing.BreakUS)
	if err := unix.IoctlSetInt(b.fd, unix.TIOCCBRK, 0); err != nil {
		return fmt.Errorf("uartinvert: clear break: %w", err)
	}
	sleepUS(timing.MABUS)

	if _, err := b.file.Write(frame[:]); err != nil {
		return fmt.Errorf("uartinvert: write frame: %w", err)
	}
	return drainOutput(b.fd)
}

func drainOutput(fd int) error {
	return unix.IoctlSetInt(fd, unix.TCSBRK, 1)
}

// Close releases the driver-enable line and closes the device.
func (b *UARTInvertBackend) Close() error {
	if b.de != nil {
		b.de.Out(gpio.Low)
	}
	return b.file.Close()
}

// termios2 is the kernel's extended termios layout used by the
// TCGETS2/TCSETS2 ioctls; golang.org/x/sys/unix carries the ioctl
// numbers and flag bits but no struct or helper for it.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   uint8
	Cc     [19]uint8
	Ispeed uint32
	Ospeed uint32
}

func ioctlTermios2(fd int, req uint, t2 *termios2) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(t2)))
	if errno != 0 {
		return errno
	}
	return nil
}

// setCustomBaud configures a non-standard baud rate via the Linux
// termios2/BOTHER extension.
func setCustomBaud(fd int, baud int) error {
	var t2 termios2
	if err := ioctlTermios2(fd, unix.TCGETS2, &t2); err != nil {
		return err
	}
	t2.Cflag &^= unix.CBAUD | unix.CBAUDEX
	t2.Cflag |= unix.BOTHER
	t2.Ispeed = uint32(baud)
	t2.Ospeed = uint32(baud)
	return ioctlTermios2(fd, unix.TCSETS2, &t2)
}
