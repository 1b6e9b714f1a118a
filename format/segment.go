// Package format compiles a pv format string into an ordered list of
// display segments and renders each component. It is grounded on
// pv/string.c (which owns format compilation in the original) and on
// every file under pv/format/*.c for the individual component
// algorithms; the tagged-enum representation for segments follows the
// redesign note in the distilled specification this module expands on,
// mirroring the teacher repository's tcp.State enum-plus-map idiom (also
// followed by package status) for the Kind.String() method.
package format

import "fmt"

// Kind identifies what a segment renders.
type Kind int

const (
	// KindStatic is literal text copied from the format string.
	KindStatic Kind = iota
	KindProgress
	KindProgressBarOnly
	KindProgressAmountOnly
	KindProgressBarBlock
	KindProgressBarGranular
	KindProgressBarShaded
	KindTimer
	KindETA
	KindFinETA
	KindRate
	KindAverageRate
	KindBytes
	KindBufferPercent
	KindLastWritten
	KindPreviousLine
	KindName
)

var kindName = map[Kind]string{
	KindStatic:              "static",
	KindProgress:            "progress",
	KindProgressBarOnly:     "progress-bar-only",
	KindProgressAmountOnly:  "progress-amount-only",
	KindProgressBarBlock:    "bar-block",
	KindProgressBarGranular: "bar-granular",
	KindProgressBarShaded:   "bar-shaded",
	KindTimer:               "timer",
	KindETA:                 "eta",
	KindFinETA:              "fineta",
	KindRate:                "rate",
	KindAverageRate:         "average-rate",
	KindBytes:               "bytes",
	KindBufferPercent:       "buffer-percent",
	KindLastWritten:         "last-written",
	KindPreviousLine:        "previous-line",
	KindName:                "name",
}

func (k Kind) String() string {
	if s, ok := kindName[k]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_KIND_%d", int(k))
}

// dynamicKinds marks the component kinds whose width is resolved only
// after fixed segments have claimed their share, per §4.6: "progress,
// progress-bar-only, previous-line". The Unicode bar-style variants
// share progress's bar-fills-remaining-space behavior, so they're
// dynamic for the same reason.
var dynamicKinds = map[Kind]bool{
	KindProgress:            true,
	KindProgressBarOnly:     true,
	KindProgressBarBlock:    true,
	KindProgressBarGranular: true,
	KindProgressBarShaded:   true,
	KindPreviousLine:        true,
}

// Segment is one compiled unit of a format string: either a run of
// static text (held in Static) or a component. Offset is not set by
// Compile or by rendering; it stays zero.
type Segment struct {
	Kind       Kind
	ChosenSize int // explicit width from "%<n><code>"; 0 = unset
	Static     string

	Offset int
	Bytes  int
	Width  int

	Dynamic bool
}

// Flags records side effects the compiler observes while walking the
// format string at zero buffer size: which accounting the transfer
// engine must perform to support the component formatters actually in
// use.
type Flags struct {
	ShowingTimer        bool
	ShowingBytes        bool
	ShowingRate         bool
	ShowingLastWritten  bool
	ShowingPreviousLine bool

	// LastWrittenWidth is the maximum width any %A segment asked for,
	// so the transfer engine knows how much tail to retain.
	LastWrittenWidth int
}

// Plan is a compiled format string: its segments plus the side-effect
// flags the compiler observed.
type Plan struct {
	Segments []Segment
	Flags    Flags
}
