//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// tcgets is the Linux ioctl request for reading terminal attributes.
const tcgets = 0x5401

// isTerminal reports whether fd refers to a terminal. Reading the
// terminal attributes only succeeds on a tty, so the ioctl doubles as
// the check.
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		tcgets,
		uintptr(unsafe.Pointer(&termios)),
		0, 0, 0,
	)
	return errno == 0
}
