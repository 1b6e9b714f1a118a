// Package status defines the exit-status bits pv reports on the way out,
// and the small enumeration of transfer count types used throughout the
// calculator and formatter packages.
//
// The bit layout and the count-type enumeration follow pv-internal.h and
// the upstream "pvtransfercount_t" enum; the String()-via-map idiom used
// for CountType mirrors tcp.State in the teacher repository.
package status

import "fmt"

// Bit is one failure category. Multiple failures combine with bitwise OR,
// so a run that both skipped a bad file and hit a write error reports the
// sum of their bits.
type Bit int

const (
	// OK is a successful run.
	OK Bit = 0
	// BadOption covers bad option/file-access errors.
	BadOption Bit = 2
	// SameFile is set when an input file is the same as the output target.
	SameFile Bit = 4
	// OpenFailed is set on file open/close failure.
	OpenFailed Bit = 8
	// ClockFailed is set when the monotonic clock read fails.
	ClockFailed Bit = 16
	// Aborted is set when a signal aborted the run.
	Aborted Bit = 32
	// NoMemory is set on memory allocation failure.
	NoMemory Bit = 64
)

// Exit accumulates Bits across a multi-file run. The zero value is OK.
type Exit struct {
	bits Bit
}

// Add combines b into the accumulated exit status.
func (e *Exit) Add(b Bit) {
	e.bits |= b
}

// Code returns the process exit code to use.
func (e *Exit) Code() int {
	return int(e.bits)
}

// CountType distinguishes what a "unit" of transfer means for display
// purposes: raw bytes, decimal-prefixed bytes, or lines.
type CountType int

const (
	// Bytes counts raw bytes, SI-prefixed with a 1024 ratio.
	Bytes CountType = iota
	// DecimalBytes counts bytes, SI-prefixed with a 1000 ratio.
	DecimalBytes
	// Lines counts line-separator-delimited records.
	Lines
)

var countTypeName = map[CountType]string{
	Bytes:        "BYTES",
	DecimalBytes: "DECBYTES",
	Lines:        "LINES",
}

func (c CountType) String() string {
	s, ok := countTypeName[c]
	if !ok {
		return fmt.Sprintf("UNKNOWN_COUNT_TYPE_%d", int(c))
	}
	return s
}
