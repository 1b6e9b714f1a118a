package format

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/m-lab/pvgo/state"
	"github.com/m-lab/pvgo/status"
)

// RenderContext bundles what a formatter needs beyond the segment itself.
// Now is injectable so fineta's local-time formatting is testable without
// depending on the wall clock.
type RenderContext struct {
	St    *state.State
	Final bool
	Now   func() time.Time
}

func (rc *RenderContext) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

// Render renders every segment of a plan against rc, assigning dynamic
// segments the width the caller has already computed for them (the
// display driver's two-pass algorithm: measure fixed segments first,
// divide the remainder among dynamic ones, then call Render again with
// those widths filled in).
func Render(rc *RenderContext, plan *Plan, dynamicWidth map[int]int) string {
	var b strings.Builder
	for i := range plan.Segments {
		seg := &plan.Segments[i]
		width := seg.ChosenSize
		if seg.Dynamic {
			width = dynamicWidth[i]
		}
		text := renderSegment(rc, seg, width)
		seg.Bytes = len(text)
		b.WriteString(text)
	}
	return b.String()
}

// NaturalWidth renders a single non-dynamic segment to discover the
// width it actually occupies, used by the display driver's first pass.
func NaturalWidth(rc *RenderContext, seg *Segment) int {
	return len([]rune(renderSegment(rc, seg, seg.ChosenSize)))
}

func renderSegment(rc *RenderContext, seg *Segment, width int) string {
	st := rc.St
	switch seg.Kind {
	case KindStatic:
		return seg.Static
	case KindTimer:
		return renderTimer(st.Transfer.ElapsedSeconds)
	case KindETA:
		return renderETA(rc)
	case KindFinETA:
		return renderFinETA(rc)
	case KindRate:
		return renderRate(st.Calc.TransferRate, st.Control.CountType, st.Control.Bits, st.Control.LineMode)
	case KindAverageRate:
		return renderRate(st.Calc.CurrentAvgRate, st.Control.CountType, st.Control.Bits, st.Control.LineMode)
	case KindBytes:
		return renderBytes(st.Transfer.TotalWritten, st.Control.CountType, st.Control.Bits, st.Control.Numeric)
	case KindBufferPercent:
		return renderBufferPercent(st)
	case KindProgress:
		return renderProgress(st, width, true, true)
	case KindProgressBarOnly:
		return renderProgress(st, width, true, false)
	case KindProgressAmountOnly:
		return renderProgress(st, width, false, true)
	case KindProgressBarBlock:
		return renderProgressStyled(st, width, true, true, effectiveBarStyle(st, barStyleBlock))
	case KindProgressBarGranular:
		return renderProgressStyled(st, width, true, true, effectiveBarStyle(st, barStyleGranular))
	case KindProgressBarShaded:
		return renderProgressStyled(st, width, true, true, effectiveBarStyle(st, barStyleShaded))
	case KindLastWritten:
		return renderLastWritten(st, seg, width)
	case KindPreviousLine:
		return renderPreviousLine(st, width)
	case KindName:
		return renderName(st, seg)
	}
	return ""
}

func renderTimer(elapsed float64) string {
	elapsed = clampElapsed(elapsed)
	total := int64(elapsed)
	days := total / 86400
	rem := total % 86400
	h, m, s := rem/3600, (rem%3600)/60, rem%60
	if days > 0 {
		return fmt.Sprintf("%d:%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func clampElapsed(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > state.ElapsedClamp {
		return state.ElapsedClamp
	}
	return s
}

// etaSeconds computes the remaining-seconds estimate shared by eta and
// fineta, or (-1, false) when it cannot be computed (size unknown or
// rate effectively zero).
func etaSeconds(st *state.State) (float64, bool) {
	if st.Control.Size <= 0 {
		return 0, false
	}
	rate := st.Calc.CurrentAvgRate
	if rate < 0.001 {
		return 0, false
	}
	remaining := float64(st.Control.Size-st.Transfer.Transferred()-st.Transfer.InitialOffset) / rate
	if remaining < 0 {
		remaining = 0
	}
	if remaining > state.ElapsedClamp {
		remaining = state.ElapsedClamp
	}
	return remaining, true
}

// renderETA renders the remaining-time estimate. On the final display
// frame, eta.c blanks the field out to spaces of the same width the text
// would have occupied, rather than omitting it, so the rest of the line
// doesn't shift when ETA stops being meaningful.
func renderETA(rc *RenderContext) string {
	secs, ok := etaSeconds(rc.St)
	if !ok {
		return ""
	}
	text := "ETA " + renderTimer(secs)
	if rc.Final {
		return strings.Repeat(" ", len([]rune(text)))
	}
	return text
}

// renderFinETA renders the estimated completion timestamp. Unlike ETA,
// fineta.c has no final-frame blanking of its own: the computed
// completion time keeps showing right through the last update. It only
// goes blank when the completion time can't be formatted at all (the
// original's localtime() failing on a huge time_t); time.Time.Format
// never fails the way localtime can, so this path only protects against
// the span pushing the result outside a sane calendar range.
func renderFinETA(rc *RenderContext) string {
	secs, ok := etaSeconds(rc.St)
	if !ok {
		return ""
	}
	finish := rc.now().Add(time.Duration(secs * float64(time.Second)))
	if finish.Year() > 9999 || finish.Year() < 1 {
		return ""
	}
	if secs > 6*3600 {
		return "FIN " + finish.Format("2006-01-02 15:04:05")
	}
	return "FIN " + finish.Format("15:04:05")
}

func renderRate(value float64, ct status.CountType, bits, lineMode bool) string {
	ratio, prefixes := 1024.0, prefixes1024
	if ct != status.Bytes {
		ratio, prefixes = 1000.0, prefixes1000
	}
	v := value
	if bits {
		v *= 8
	}
	scaled, prefix := siScale(v, ratio, prefixes)
	suffix := "B/s"
	switch {
	case bits:
		suffix = "b/s"
	case lineMode:
		suffix = "/s"
	}
	return formatMagnitude(scaled) + prefix + suffix
}

func renderBytes(value int64, ct status.CountType, bits, numeric bool) string {
	if numeric {
		return fmt.Sprintf("%d", value)
	}
	ratio, prefixes := 1024.0, prefixes1024
	unit := "B"
	if ct != status.Bytes {
		ratio, prefixes = 1000.0, prefixes1000
		unit = ""
	}
	v := float64(value)
	if bits {
		v *= 8
		unit = "b"
	}
	scaled, prefix := siScale(v, ratio, prefixes)
	return formatMagnitude(scaled) + prefix + unit
}

func renderBufferPercent(st *state.State) string {
	if st.Transfer.SpliceUsed {
		return "{----}"
	}
	if st.Transfer.BufferSize == 0 {
		return "{  0%}"
	}
	occupied := st.Transfer.ReadPosition - st.Transfer.WritePosition
	pct := 100 * occupied / st.Transfer.BufferSize
	return fmt.Sprintf("{%3d%%}", pct)
}

// barStyle selects which glyphs fill a progress bar's interior.
// barstyle.c's default is plain ASCII; the Unicode variants are an
// additive, non-default rendering path on the same bar.
type barStyle int

const (
	barStyleASCII barStyle = iota
	barStyleBlock
	barStyleGranular
	barStyleShaded
)

// granularLevels are the eight sub-cell fill glyphs (1/8 through 8/8),
// used by the granular bar style to render the boundary cell at finer
// resolution than one glyph per whole cell.
var granularLevels = []rune{' ', '▏', '▎', '▍', '▌', '▋', '▊', '▉', '█'}

// effectiveBarStyle falls back to plain ASCII when the terminal can't
// display UTF-8, per SPEC_FULL.md §3's bar-style note (Unicode styles only
// when the terminal can display UTF-8).
func effectiveBarStyle(st *state.State, style barStyle) barStyle {
	if !st.Control.CanDisplayUTF8 {
		return barStyleASCII
	}
	return style
}

// renderProgress implements the progress bar / amount renderer shared by
// %p, %{progress-bar-only}, and %{progress-amount-only}.
func renderProgress(st *state.State, width int, showBar, showAmount bool) string {
	return renderProgressStyled(st, width, showBar, showAmount, barStyleASCII)
}

// renderProgressStyled is the shared implementation behind %p and the
// %{bar-block}/%{bar-granular}/%{bar-shaded} variants: same percentage
// computation and bracket/amount layout, differing only in which glyphs
// fill the bar's interior.
func renderProgressStyled(st *state.State, width int, showBar, showAmount bool, style barStyle) string {
	pct := progressPercent(st)

	amount := ""
	if showAmount {
		amount = fmt.Sprintf(" %3.0f%%", pct)
	}
	if !showBar {
		return strings.TrimSpace(amount)
	}

	barWidth := width - len(amount) - 2 // account for the enclosing brackets
	if barWidth < 1 {
		barWidth = 1
	}
	filledF := float64(barWidth) * pct / 100
	filled := int(filledF)
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	switch style {
	case barStyleBlock:
		bar = renderBlockBar(barWidth, filled)
	case barStyleGranular:
		bar = renderGranularBar(barWidth, filled, filledF)
	case barStyleShaded:
		bar = renderShadedBar(barWidth, filled)
	default:
		bar = renderASCIIBar(barWidth, filled)
	}
	return "[" + bar + "]" + amount
}

// progressPercent computes the 0-100 fill percentage shared by every bar
// style: known-size transfers use Calc.Percentage directly; unknown-size
// transfers either track the rate gauge or bounce a 0-200 sweep back
// into 0-100.
func progressPercent(st *state.State) float64 {
	pct := st.Calc.Percentage
	if st.Control.Size <= 0 && st.Control.RateGauge {
		if st.Calc.RateMax > 0 {
			pct = 100 * st.Calc.TransferRate / st.Calc.RateMax
		} else {
			pct = 0
		}
	} else if st.Control.Size <= 0 {
		// Unknown size, no rate gauge: Calc.Percentage already sweeps
		// 0-200; fold the back half into a bounce.
		if pct > 100 {
			pct = 200 - pct
		}
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// renderASCIIBar is pv's default bar style: a run of '=' with a single
// '>' tip, leaving room for the tip rather than overflowing it.
func renderASCIIBar(barWidth, filled int) string {
	cells := make([]byte, barWidth)
	for i := range cells {
		cells[i] = ' '
	}
	for i := 0; i < filled; i++ {
		cells[i] = '='
	}
	if filled > 0 && filled < barWidth {
		cells[filled-1] = '>'
	}
	return string(cells)
}

// renderBlockBar fills with solid Unicode block characters instead of
// '=', and has no separate tip glyph.
func renderBlockBar(barWidth, filled int) string {
	cells := make([]rune, barWidth)
	for i := range cells {
		cells[i] = ' '
	}
	for i := 0; i < filled; i++ {
		cells[i] = '█'
	}
	return string(cells)
}

// renderGranularBar fills whole cells solid and renders the boundary
// cell at one of eight sub-cell resolutions, so the bar's leading edge
// moves smoothly between whole-cell increments.
func renderGranularBar(barWidth, filled int, filledF float64) string {
	cells := make([]rune, barWidth)
	for i := range cells {
		cells[i] = ' '
	}
	for i := 0; i < filled; i++ {
		cells[i] = '█'
	}
	if filled < barWidth {
		level := int((filledF - float64(filled)) * 8)
		if level > 8 {
			level = 8
		}
		if level > 0 {
			cells[filled] = granularLevels[level]
		}
	}
	return string(cells)
}

// renderShadedBar fills completed cells solid, the boundary cell at a
// medium shade, and the remainder at a light shade, giving the bar a
// ramped look instead of plain whitespace ahead of the fill.
func renderShadedBar(barWidth, filled int) string {
	cells := make([]rune, barWidth)
	for i := range cells {
		if i < filled {
			cells[i] = '█'
		} else {
			cells[i] = '░'
		}
	}
	if filled > 0 && filled < barWidth {
		cells[filled] = '▒'
	}
	return string(cells)
}

func renderLastWritten(st *state.State, seg *Segment, width int) string {
	n := seg.ChosenSize
	if n == 0 {
		n = width
	}
	if n == 0 || n > LastWrittenMaxWidth {
		n = LastWrittenMaxWidth
	}
	tail := st.Transfer.LastWritten
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	out := make([]byte, len(tail))
	for i, b := range tail {
		if unicode.IsPrint(rune(b)) {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

func renderPreviousLine(st *state.State, width int) string {
	line := st.Transfer.PreviousLine
	out := make([]byte, 0, width)
	for _, b := range line {
		if len(out) >= width {
			break
		}
		if unicode.IsPrint(rune(b)) {
			out = append(out, b)
		} else {
			out = append(out, ' ')
		}
	}
	for len(out) < width {
		out = append(out, ' ')
	}
	return string(out)
}

func renderName(st *state.State, seg *Segment) string {
	width := seg.ChosenSize
	if width == 0 {
		width = 9
	}
	if width > 500 {
		width = 500
	}
	name := st.Control.Name
	if len(name) > width {
		name = name[len(name)-width:]
	}
	return fmt.Sprintf("%*s:", width, name)
}
