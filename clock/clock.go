// Package clock implements the elapsed-time arithmetic pv needs for its
// transfer timer, rate calculations, and SIGTSTP/SIGCONT suspend
// accounting. It is grounded on pv/elapsedtime.c: a monotonic reading that
// excludes time spent suspended, plus the handful of comparison and
// arithmetic operations the rest of the program performs on it.
//
// A hard clock-read failure is unrecoverable (see pv/elapsedtime.c's
// comment on pv_elapsedtime_read): the process exits with status 16, the
// same bit status.ClockFailed carries.
package clock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Time is a monotonic timestamp, analogous to struct timespec. It never
// goes backwards and does not advance while the system is suspended.
type Time struct {
	Sec  int64
	Nsec int64
}

// Read takes a monotonic reading. On the failure path described in
// pv/elapsedtime.c, clock_gettime is treated as a hard dependency: the
// process is terminated immediately with exit status 16.
func Read() Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		fmt.Fprintf(os.Stderr, "pv: clock_gettime: %s\n", err)
		os.Exit(16)
	}
	return Time{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

// Zero reports the zero time.
func Zero() Time {
	return Time{}
}

// IsZero reports whether t is the zero time.
func (t Time) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// Compare returns -1, 0, or 1 depending on whether a is earlier than,
// equal to, or later than b.
func Compare(a, b Time) int {
	if a.Sec < b.Sec {
		return -1
	}
	if a.Sec > b.Sec {
		return 1
	}
	if a.Nsec < b.Nsec {
		return -1
	}
	if a.Nsec > b.Nsec {
		return 1
	}
	return 0
}

func normalize(sec, nsec int64) Time {
	sec += nsec / 1e9
	nsec = nsec % 1e9
	if nsec < 0 {
		sec--
		nsec += 1e9
	}
	return Time{Sec: sec, Nsec: nsec}
}

// Add returns a+b.
func Add(a, b Time) Time {
	return normalize(a.Sec+b.Sec, a.Nsec+b.Nsec)
}

// AddNsec returns t plus a number of nanoseconds, which may be negative.
func AddNsec(t Time, ns int64) Time {
	return normalize(t.Sec, t.Nsec+ns)
}

// Subtract returns a-b.
func Subtract(a, b Time) Time {
	return normalize(a.Sec-b.Sec, a.Nsec-b.Nsec)
}

// Seconds converts t to a floating-point second count.
func Seconds(t Time) float64 {
	return float64(t.Sec) + float64(t.Nsec)/1e9
}
