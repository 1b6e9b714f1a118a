package state_test

import (
	"testing"

	"github.com/m-lab/pvgo/state"
)

func TestNewControlDefaults(t *testing.T) {
	c := state.NewControl()
	if c.Interval != 1 {
		t.Errorf("default interval = %v, want 1", c.Interval)
	}
	if c.HistoryLen != 1 || c.HistoryInterval != 1 {
		t.Errorf("default history = (%d, %v), want (1, 1)", c.HistoryLen, c.HistoryInterval)
	}
}

func TestSetAverageRateWindow(t *testing.T) {
	cases := []struct {
		window      int
		wantLen     int
		wantInterval float64
	}{
		{0, 1, 1},
		{19, 20, 1},
		{20, 5, 5},
		{100, 21, 5},
	}
	for _, c := range cases {
		ctl := state.NewControl()
		ctl.SetAverageRateWindow(c.window)
		if ctl.HistoryLen != c.wantLen || ctl.HistoryInterval != c.wantInterval {
			t.Errorf("window=%d: got (%d, %v), want (%d, %v)",
				c.window, ctl.HistoryLen, ctl.HistoryInterval, c.wantLen, c.wantInterval)
		}
	}
}

func TestTransferBufferInvariant(t *testing.T) {
	tr := state.NewTransfer(1024)
	tr.ReadPosition = 100
	tr.WritePosition = 40
	if !(0 <= tr.WritePosition && tr.WritePosition <= tr.ReadPosition && tr.ReadPosition <= tr.BufferSize) {
		t.Fatal("buffer position invariant violated")
	}
}

func TestTransferGrowPreservesUnreadBytes(t *testing.T) {
	tr := state.NewTransfer(4)
	copy(tr.Buffer, []byte("abcd"))
	tr.ReadPosition = 4
	tr.Grow(8)
	if tr.BufferSize != 8 {
		t.Fatalf("buffer size = %d, want 8", tr.BufferSize)
	}
	if string(tr.Buffer[:4]) != "abcd" {
		t.Fatalf("unread bytes not preserved: %q", tr.Buffer[:4])
	}
}

func TestTransferGrowNoopWhenSmaller(t *testing.T) {
	tr := state.NewTransfer(16)
	tr.Grow(8)
	if tr.BufferSize != 16 {
		t.Fatalf("buffer size = %d, want unchanged 16", tr.BufferSize)
	}
}

func TestCollapseIfDrained(t *testing.T) {
	tr := state.NewTransfer(16)
	tr.ReadPosition = 10
	tr.WritePosition = 10
	tr.CollapseIfDrained()
	if tr.ReadPosition != 0 || tr.WritePosition != 0 {
		t.Error("expected positions reset to 0 once drained")
	}
}

func TestTransferredNeverNegative(t *testing.T) {
	tr := state.NewTransfer(16)
	tr.TotalWritten = 10
	tr.WrittenButNotConsumed = 25
	if got := tr.Transferred(); got != 0 {
		t.Errorf("Transferred() = %d, want 0 (clamped)", got)
	}
}

func TestLinePositionsRingAndLinesNotConsumed(t *testing.T) {
	tr := state.NewTransfer(16)
	for i := int64(1); i <= 5; i++ {
		tr.TotalWritten = i * 10
		tr.PushLinePosition()
	}
	// Of the five recorded positions (10,20,30,40,50), three lie above
	// a threshold of 25: 30,40,50 -> 3 lines not consumed.
	if got := tr.LinesNotConsumed(25); got != 3 {
		t.Errorf("LinesNotConsumed(25) = %d, want 3", got)
	}
	if got := tr.LinesNotConsumed(50); got != 0 {
		t.Errorf("LinesNotConsumed(50) = %d, want 0", got)
	}
}

func TestLinePositionsRingEviction(t *testing.T) {
	tr := state.NewTransfer(16)
	tr.LinePositions = make([]int64, 3) // force a tiny ring for the test
	for i := int64(1); i <= 5; i++ {
		tr.TotalWritten = i
		tr.PushLinePosition()
	}
	if tr.LinePositionsCount != 3 {
		t.Fatalf("count = %d, want 3 (capped at ring size)", tr.LinePositionsCount)
	}
	// Oldest two entries (1, 2) should have been evicted; only 3,4,5 remain.
	if got := tr.LinesNotConsumed(2); got != 3 {
		t.Errorf("LinesNotConsumed(2) = %d, want 3", got)
	}
}
