package runloop

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-lab/pvgo/cursor"
	"github.com/m-lab/pvgo/display"
	"github.com/m-lab/pvgo/sigctl"
	"github.com/m-lab/pvgo/state"
)

func newTestRig(t *testing.T) (*state.State, *sigctl.Router, *display.Driver) {
	t.Helper()
	ctl := state.NewControl()
	ctl.NoSplice = true
	ctl.NoDisplay = true
	ctl.TargetBufferSize = 64
	st := state.New(ctl)
	router := sigctl.NewForTest()
	drv := &display.Driver{Router: router, Cursor: &cursor.Coordinator{}}
	drv.Recompile(st)
	return st, router, drv
}

func TestRunDrainsAllBytesAndStopsAtEOF(t *testing.T) {
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inR.Close()
	defer outR.Close()

	payload := []byte("the quick brown fox")
	go func() {
		inW.Write(payload)
		inW.Close()
	}()
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := outR.Read(buf)
			if n == 0 || err != nil {
				return
			}
		}
	}()

	st, router, drv := newTestRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	opt := Options{
		Files:         []File{{Fd: int(inR.Fd()), Name: "-"}},
		OutputFd:      int(outW.Fd()),
		LineSep:       '\n',
		TerminalWidth: func() int { return 80 },
	}
	if err := Run(ctx, st, router, drv, opt); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	outW.Close()

	if st.Transfer.TotalWritten != int64(len(payload)) {
		t.Errorf("TotalWritten = %d, want %d", st.Transfer.TotalWritten, len(payload))
	}
	if !st.Transfer.EOFIn || !st.Transfer.EOFOut {
		t.Error("expected both EOFIn and EOFOut to be set after drain")
	}
}

func TestRunStopsAtConfiguredSize(t *testing.T) {
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inR.Close()
	defer outR.Close()
	defer inW.Close()

	go func() {
		inW.Write([]byte("0123456789"))
	}()
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := outR.Read(buf)
			if n == 0 || err != nil {
				return
			}
		}
	}()

	st, router, drv := newTestRig(t)
	st.Control.StopAtSize = true
	st.Control.Size = 4

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	opt := Options{
		Files:         []File{{Fd: int(inR.Fd()), Name: "-"}},
		OutputFd:      int(outW.Fd()),
		LineSep:       '\n',
		TerminalWidth: func() int { return 80 },
	}
	if err := Run(ctx, st, router, drv, opt); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	outW.Close()

	if st.Transfer.TotalWritten < 4 {
		t.Errorf("TotalWritten = %d, want >= 4", st.Transfer.TotalWritten)
	}
	if !st.Transfer.EOFOut {
		t.Error("expected EOFOut once the configured size was reached")
	}
}

func TestRunExitsPromptlyOnContextCancel(t *testing.T) {
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inR.Close()
	defer inW.Close()
	defer outR.Close()
	defer outW.Close()

	st, router, drv := newTestRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already canceled: Run should return on its first tick check

	opt := Options{
		Files:         []File{{Fd: int(inR.Fd()), Name: "-"}},
		OutputFd:      int(outW.Fd()),
		LineSep:       '\n',
		TerminalWidth: func() int { return 80 },
	}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, st, router, drv, opt) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
