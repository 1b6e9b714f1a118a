package display

import (
	"testing"
	"time"

	"github.com/m-lab/pvgo/format"
	"github.com/m-lab/pvgo/state"
)

func newTestState() *state.State {
	ctl := state.NewControl()
	ctl.FormatString = "%p %t"
	return state.New(ctl)
}

func TestRecompileBuildsPlans(t *testing.T) {
	st := newTestState()
	st.Control.ExtraFormatString = "%N"
	d := &Driver{}
	d.Recompile(st)
	if d.Plan == nil || len(d.Plan.Segments) == 0 {
		t.Fatal("expected a compiled primary plan")
	}
	if d.ExtraPlan == nil {
		t.Fatal("expected a compiled extra plan")
	}
}

func TestRecompileWithoutExtraFormat(t *testing.T) {
	st := newTestState()
	d := &Driver{}
	d.Recompile(st)
	if d.ExtraPlan != nil {
		t.Fatal("expected no extra plan when ExtraFormatString is empty")
	}
}

func TestRenderShrinkWipesTail(t *testing.T) {
	st := newTestState()
	d := &Driver{Now: func() time.Time { return time.Unix(0, 0) }}
	d.Recompile(st)
	rc := &format.RenderContext{St: st, Now: d.Now}

	wide := d.render(rc, d.Plan, 60)
	if len([]rune(wide)) == 0 {
		t.Fatal("expected a non-empty wide render")
	}

	narrow := d.render(rc, d.Plan, 10)
	if len([]rune(narrow)) > 10+15 {
		t.Errorf("narrow render too long: %d runes", len([]rune(narrow)))
	}
}

func TestNumericLineFormat(t *testing.T) {
	st := newTestState()
	st.Transfer.ElapsedSeconds = 5
	st.Transfer.TotalWritten = 100
	st.Calc.TransferRate = 20
	st.Calc.Percentage = 50
	line := numericLine(st)
	want := "5 100 20 50\n"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}
