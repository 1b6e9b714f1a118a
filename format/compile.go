package format

import "strings"

var longNameToKind = map[string]Kind{
	"progress":             KindProgress,
	"progress-bar-only":    KindProgressBarOnly,
	"progress-amount-only": KindProgressAmountOnly,
	"bar-block":            KindProgressBarBlock,
	"bar-granular":         KindProgressBarGranular,
	"bar-shaded":           KindProgressBarShaded,
	"timer":                KindTimer,
	"eta":                  KindETA,
	"fineta":               KindFinETA,
	"rate":                 KindRate,
	"average-rate":         KindAverageRate,
	"bytes":                KindBytes,
	"transferred":          KindBytes,
	"buffer-percent":       KindBufferPercent,
	"last-written":         KindLastWritten,
	"previous-line":        KindPreviousLine,
	"name":                 KindName,
}

var letterToKind = map[byte]Kind{
	'p': KindProgress,
	't': KindTimer,
	'e': KindETA,
	'I': KindFinETA,
	'r': KindRate,
	'a': KindAverageRate,
	'b': KindBytes,
	'T': KindBufferPercent,
	'A': KindLastWritten,
	'L': KindPreviousLine,
	'N': KindName,
}

// Compile parses a pv format string into a Plan. applySideEffects then
// walks the compiled segments, without rendering them, so that Flags
// reflects what the transfer engine must track.
func Compile(s string) *Plan {
	p := &Plan{}
	var staticBuf strings.Builder

	flush := func() {
		if staticBuf.Len() == 0 {
			return
		}
		p.Segments = append(p.Segments, Segment{
			Kind:   KindStatic,
			Static: staticBuf.String(),
			Width:  len([]rune(staticBuf.String())),
		})
		staticBuf.Reset()
	}

	i := 0
	for i < len(s) {
		if s[i] != '%' {
			staticBuf.WriteByte(s[i])
			i++
			continue
		}
		// s[i] == '%'
		if i+1 >= len(s) {
			staticBuf.WriteByte('%')
			i++
			continue
		}
		switch {
		case s[i+1] == '%':
			staticBuf.WriteByte('%')
			i += 2
		case s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				// No closing brace: emit verbatim.
				staticBuf.WriteByte(s[i])
				i++
				continue
			}
			name := s[i+2 : i+2+end]
			kind, ok := longNameToKind[name]
			if !ok {
				staticBuf.WriteString(s[i : i+2+end+1])
				i += 2 + end + 1
				continue
			}
			flush()
			p.Segments = append(p.Segments, newComponentSegment(kind, 0))
			i += 2 + end + 1
		default:
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == len(s) {
				staticBuf.WriteByte(s[i])
				i++
				continue
			}
			size := 0
			if j > i+1 {
				size = atoiChosenSize(s[i+1 : j])
			}
			kind, ok := letterToKind[s[j]]
			if !ok {
				staticBuf.WriteString(s[i : j+1])
				i = j + 1
				continue
			}
			flush()
			p.Segments = append(p.Segments, newComponentSegment(kind, size))
			i = j + 1
		}
	}
	flush()

	applySideEffects(p)
	return p
}

func newComponentSegment(kind Kind, chosenSize int) Segment {
	return Segment{
		Kind:       kind,
		ChosenSize: chosenSize,
		Dynamic:    dynamicKinds[kind] && chosenSize == 0,
	}
}

func atoiChosenSize(digits string) int {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return n
}

// applySideEffects walks the compiled segments and records which
// transfer-engine accounting is needed, matching the zero-buffer
// compile-pass contract described in §4.6.
func applySideEffects(p *Plan) {
	for i := range p.Segments {
		seg := &p.Segments[i]
		switch seg.Kind {
		case KindTimer, KindETA, KindFinETA:
			p.Flags.ShowingTimer = true
		case KindRate, KindAverageRate:
			p.Flags.ShowingRate = true
		case KindBytes:
			p.Flags.ShowingBytes = true
		case KindLastWritten:
			p.Flags.ShowingLastWritten = true
			width := seg.ChosenSize
			if width == 0 || width > LastWrittenMaxWidth {
				width = LastWrittenMaxWidth
			}
			if width > p.Flags.LastWrittenWidth {
				p.Flags.LastWrittenWidth = width
			}
		case KindPreviousLine:
			p.Flags.ShowingPreviousLine = true
		}
	}
}

// LastWrittenMaxWidth caps how much of the rolling last-written tail any
// single %A segment may display.
const LastWrittenMaxWidth = 256
