package sigctl

import "golang.org/x/sys/unix"

// Linux's termios ioctl numbers, as used by golang.org/x/term for the
// equivalent raw-mode dance.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)
