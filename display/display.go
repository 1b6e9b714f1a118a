// Package display is the display driver: it recomputes the transfer
// rate, recompiles the format plan when asked, renders one frame per
// tick, and routes that frame to the right sink (plain terminal line,
// cursor-coordinated row, numeric mode, or the two "extra" targets —
// window title and process title).
//
// It is grounded on pv/display.c's per-tick sequence and its two-pass
// fixed/dynamic width allocation.
package display

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/m-lab/pvgo/calc"
	"github.com/m-lab/pvgo/cursor"
	"github.com/m-lab/pvgo/format"
	"github.com/m-lab/pvgo/sigctl"
	"github.com/m-lab/pvgo/state"
	"golang.org/x/sys/unix"
)

// Driver owns the compiled format plans and the previous frame's width,
// so it can wipe a shrinking line's tail.
type Driver struct {
	Plan      *format.Plan
	ExtraPlan *format.Plan

	prevWidth int

	// Now lets tests fix fineta's clock; nil uses time.Now.
	Now func() time.Time

	Router *sigctl.Router
	Cursor *cursor.Coordinator
}

// New compiles the primary and (optional) extra format strings.
func New(st *state.State, router *sigctl.Router, coord *cursor.Coordinator) *Driver {
	d := &Driver{Router: router, Cursor: coord}
	d.Recompile(st)
	return d
}

// Recompile recompiles both format plans from the control block's
// current format strings, e.g. after a remote reconfigure.
func (d *Driver) Recompile(st *state.State) {
	d.Plan = format.Compile(st.Control.FormatString)
	if st.Control.ExtraFormatString != "" {
		d.ExtraPlan = format.Compile(st.Control.ExtraFormatString)
	} else {
		d.ExtraPlan = nil
	}
}

// Tick renders and emits one frame, per §4.8's sequence. final should be
// true on the last frame of the run (EOF reached), blanking ETA/FINETA
// and forcing the whole-transfer average.
func (d *Driver) Tick(st *state.State, terminalWidth int, final bool) error {
	if d.Router != nil {
		d.Router.CheckBackground()
	}

	calc.Calculate(st, final)

	if d.Router != nil && d.Router.TestAndClearReparse() {
		d.Recompile(st)
	}

	if st.Control.NoDisplay {
		return nil
	}

	rc := &format.RenderContext{St: st, Final: final, Now: d.Now}

	if st.Control.Numeric {
		return d.emit(numericLine(st))
	}

	line := d.render(rc, d.Plan, terminalWidth)

	switch {
	case st.Control.Cursor && d.Cursor != nil:
		if d.Cursor.NeedsReinit() {
			d.Cursor.Reinit()
		}
		return d.Cursor.Update(line)
	default:
		if !st.Control.Force && !sigctl.InForeground() {
			return nil
		}
		return d.emit(line + "\r")
	}
}

// RenderLine renders plan against rc at the given width without emitting
// it anywhere, reusing the same two-pass fixed/dynamic width allocation
// and shrink-wipe padding Tick uses for the primary display. Exported
// for runloop's watch loops, which render one plan per tracked fd and
// compose the lines into a single multi-row frame themselves rather than
// writing each one straight to the terminal.
func (d *Driver) RenderLine(rc *format.RenderContext, plan *format.Plan, width int) string {
	return d.render(rc, plan, width)
}

// EmitExtras writes the extra displays (window title, process title) if
// enabled, using the extra format plan when one is compiled, the primary
// otherwise.
func (d *Driver) EmitExtras(st *state.State, terminalWidth int, final bool) {
	plan := d.ExtraPlan
	if plan == nil {
		plan = d.Plan
	}
	rc := &format.RenderContext{St: st, Final: final, Now: d.Now}
	text := d.render(rc, plan, terminalWidth)

	if st.Control.ExtraDisplayWindowTitle {
		fmt.Fprintf(stderrWriter{}, "\x1b]2;%s\x1b\\", text)
	}
	if st.Control.ExtraDisplayProcessTitle {
		if ptr, err := unix.BytePtrFromString(text); err == nil {
			_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(ptr)), 0, 0, 0)
		}
	}
}

// render implements the two-pass fixed/dynamic width allocation and the
// "wipe the tail on shrink" rule.
func (d *Driver) render(rc *format.RenderContext, plan *format.Plan, width int) string {
	staticWidth := 0
	dynCount := 0
	for i := range plan.Segments {
		seg := &plan.Segments[i]
		if seg.Dynamic {
			dynCount++
			continue
		}
		staticWidth += format.NaturalWidth(rc, seg)
	}

	dynamicWidth := map[int]int{}
	if dynCount > 0 {
		leftover := width - staticWidth
		if leftover < 0 {
			leftover = 0
		}
		each := leftover / dynCount
		extra := leftover % dynCount
		assigned := 0
		for i := range plan.Segments {
			if !plan.Segments[i].Dynamic {
				continue
			}
			w := each
			if assigned == dynCount-1 {
				w += extra
			}
			dynamicWidth[i] = w
			assigned++
		}
	}

	line := format.Render(rc, plan, dynamicWidth)

	runes := []rune(line)
	if width > 0 && len(runes) > width {
		// Pass 3's "drop rather than truncate" ideal is approximated
		// here by a hard cut, since segments have already been
		// concatenated by this point.
		runes = runes[:width]
		line = string(runes)
	}

	if len(runes) < d.prevWidth {
		pad := d.prevWidth - len(runes)
		if pad > 15 {
			pad = 15
		}
		line += strings.Repeat(" ", pad)
	}
	d.prevWidth = len(runes)

	return line
}

func numericLine(st *state.State) string {
	return fmt.Sprintf("%d %d %d %d\n",
		int64(st.Transfer.ElapsedSeconds),
		st.Transfer.TotalWritten,
		int64(st.Calc.TransferRate),
		int64(st.Calc.Percentage))
}

func (d *Driver) emit(s string) error {
	_, err := stderrWriter{}.Write([]byte(s))
	return err
}

// stderrWriter is a tiny seam so tests can't accidentally depend on a
// package-level os.Stderr var; it always targets fd 2.
type stderrWriter struct{}

func (stderrWriter) Write(p []byte) (int, error) {
	return unix.Write(2, p)
}
