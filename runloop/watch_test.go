package runloop

import (
	"strings"
	"testing"

	"github.com/m-lab/pvgo/state"
)

func TestWatchLineUsesConfiguredFormatString(t *testing.T) {
	ctl := state.NewControl()
	ctl.FormatString = "%N%b"
	w := newWatchedFD(1234, 5, "somefile", ctl)
	w.st.Transfer.TotalWritten = 12345

	line := watchLine(w)
	if !strings.Contains(line, "somefile:") {
		t.Errorf("got %q, want it to contain the configured %%N name segment", line)
	}
	if !strings.Contains(line, "12345") {
		t.Errorf("got %q, want it to contain the byte count from %%b", line)
	}
}

func TestWatchLineHonorsControlWidth(t *testing.T) {
	ctl := state.NewControl()
	ctl.FormatString = "%p"
	ctl.Width = 20
	ctl.Size = 100
	w := newWatchedFD(1, 2, "f", ctl)
	w.st.Transfer.TotalWritten = 50

	line := watchLine(w)
	if !strings.HasPrefix(line, "[") {
		t.Errorf("got %q, want a bracketed progress bar", line)
	}
	if n := len([]rune(line)); n != 20 {
		t.Errorf("got %q (%d runes), want a line of Control.Width = 20", line, n)
	}
}

func TestNewWatchedFDClonesControlIndependently(t *testing.T) {
	ctl := state.NewControl()
	a := newWatchedFD(1, 1, "a", ctl)
	b := newWatchedFD(1, 2, "b", ctl)

	if a.st.Control == b.st.Control {
		t.Error("expected each watched fd to get its own Control clone")
	}
	if a.drv == b.drv {
		t.Error("expected each watched fd to get its own display.Driver")
	}
}

func TestRenderWatchRowsProducesOneLinePerFd(t *testing.T) {
	ctl := state.NewControl()
	ctl.FormatString = "%N%b"
	watched := map[int]*watchedFD{
		1: newWatchedFD(1, 1, "one", ctl),
		2: newWatchedFD(1, 2, "two", ctl),
	}
	watched[1].st.Transfer.TotalWritten = 10
	watched[2].st.Transfer.TotalWritten = 20

	rows := renderWatchRows(watched)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	joined := strings.Join(rows, "\n")
	if !strings.Contains(joined, "one:") || !strings.Contains(joined, "two:") {
		t.Errorf("got %q, want both fd names rendered", joined)
	}
}
