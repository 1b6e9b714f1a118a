package main

import (
	"os"
	"testing"

	"github.com/m-lab/go/rtx"
	"golang.org/x/sys/unix"
)

func TestBuildControlAppliesFlags(t *testing.T) {
	*size = 12345
	*rateLimit = 64
	*formatString = "%p"
	*lineMode = true

	ctl := buildControl()
	if ctl.Size != 12345 {
		t.Errorf("Size = %d, want 12345", ctl.Size)
	}
	if ctl.RateLimit != 64 {
		t.Errorf("RateLimit = %d, want 64", ctl.RateLimit)
	}
	if ctl.FormatString != "%p" {
		t.Errorf("FormatString = %q, want %q", ctl.FormatString, "%p")
	}
	if !ctl.LineMode {
		t.Error("expected LineMode to be true")
	}
	if ctl.TargetBufferSize <= 0 {
		t.Error("expected a positive default buffer size when -buffer-size is unset")
	}
}

func TestOpenInputsDefaultsToStdin(t *testing.T) {
	files, bit := openInputs(nil)
	if bit != 0 {
		t.Fatalf("unexpected status bit %d", bit)
	}
	if len(files) != 1 || files[0].Name != "-" {
		t.Fatalf("expected a single stdin placeholder, got %+v", files)
	}
}

func TestOpenInputsReadsNamedFiles(t *testing.T) {
	dir, err := os.MkdirTemp("", "TestOpenInputs")
	rtx.Must(err, "could not make tempdir")
	defer os.RemoveAll(dir)
	rtx.Must(os.WriteFile(dir+"/a.txt", []byte("hello"), 0644), "could not write file")

	files, bit := openInputs([]string{dir + "/a.txt"})
	if bit != 0 {
		t.Fatalf("unexpected status bit %d", bit)
	}
	if len(files) != 1 || files[0].Name != dir+"/a.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestOpenInputsReportsMissingFile(t *testing.T) {
	_, bit := openInputs([]string{"/no/such/file/pvgo-test"})
	if bit == 0 {
		t.Error("expected a non-zero status bit for a missing file")
	}
}

func TestTerminalWidthFallsBackTo80(t *testing.T) {
	// Under `go test`, stderr is usually not a terminal, so this exercises
	// the IOCTL-failure fallback path.
	w := terminalWidth()
	if w <= 0 {
		t.Errorf("terminalWidth() = %d, want a positive width", w)
	}
	if _, err := unix.IoctlGetWinsize(int(os.Stderr.Fd()), unix.TIOCGWINSZ); err != nil && w != 80 {
		t.Errorf("terminalWidth() = %d with no terminal on stderr, want the 80-column fallback", w)
	}
}
