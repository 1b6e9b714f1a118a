//go:build darwin || freebsd || netbsd || openbsd

package sigctl

import "golang.org/x/sys/unix"

// BSD and Darwin use the TIOCGETA/TIOCSETA ioctl pair instead of Linux's
// TCGETS/TCSETS.
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)
