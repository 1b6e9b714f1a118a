// Main package in pv implements a command-line progress-viewer: it copies
// stdin to stdout (or a list of named files to stdout), reporting transfer
// progress on stderr. See SPEC_FULL.md for the full component design this
// binary wires together.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/pvgo/cursor"
	"github.com/m-lab/pvgo/display"
	"github.com/m-lab/pvgo/remotectl"
	"github.com/m-lab/pvgo/runloop"
	"github.com/m-lab/pvgo/sigctl"
	"github.com/m-lab/pvgo/state"
	"github.com/m-lab/pvgo/status"
	"github.com/m-lab/pvgo/transfer"
	"golang.org/x/sys/unix"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	size         = flag.Int64("size", 0, "Expected total size of the input, 0 if unknown")
	rateLimit    = flag.Int64("rate-limit", 0, "Maximum transfer rate in bytes/sec, 0 for unlimited")
	bufferSize   = flag.Int64("buffer-size", 0, "Transfer buffer size, 0 for the built-in default")
	interval     = flag.Float64("interval", 1, "Seconds between display updates")
	delayStart   = flag.Float64("delay-start", 0, "Seconds to wait before the first display update")
	formatString = flag.String("format", "%p %t %r %b", "Display format string")
	name         = flag.String("name", "", "Optional label shown in the display")
	lineMode     = flag.Bool("line-mode", false, "Count lines instead of bytes")
	cursorMode   = flag.Bool("cursor", false, "Use cursor-positioning display mode")
	numeric      = flag.Bool("numeric", false, "Print raw numeric progress instead of a formatted line")
	force        = flag.Bool("force", false, "Output progress even when not the foreground process")
	showStats    = flag.Bool("show-stats", false, "Print a rate min/avg/max/mdev summary on exit")
	stopAtSize   = flag.Bool("stop-at-size", false, "Stop after transferring exactly -size bytes")
	noSplice     = flag.Bool("no-splice", false, "Never use splice(2), always read/write")
	discardInput = flag.Bool("discard", false, "Read and discard input instead of writing it out")
	watchPID     = flag.Int("watch-pid", 0, "Watch all open fds of this pid instead of piping")
	watchFd      = flag.Int("watch-fd", -1, "With -watch-pid, watch only this fd")
	remoteSocket = flag.String("remote-socket", "", "Path of a Unix socket to accept remote reconfigure messages on")
	promAddr     = flag.String("prom", "", "Prometheus metrics export address and port; empty disables the endpoint")
)

func terminalWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stderr.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return 80
	}
	return int(ws.Col)
}

func buildControl() *state.Control {
	ctl := state.NewControl()
	ctl.Size = *size
	ctl.RateLimit = *rateLimit
	ctl.TargetBufferSize = *bufferSize
	ctl.Interval = *interval
	ctl.DelayStart = *delayStart
	ctl.FormatString = *formatString
	ctl.Name = *name
	ctl.LineMode = *lineMode
	ctl.Cursor = *cursorMode
	ctl.Numeric = *numeric
	ctl.Force = *force
	ctl.ShowStats = *showStats
	ctl.StopAtSize = *stopAtSize
	ctl.NoSplice = *noSplice
	ctl.DiscardInput = *discardInput
	ctl.WatchPID = *watchPID
	ctl.WatchFd = *watchFd
	ctl.OutputFd = 1
	if ctl.TargetBufferSize <= 0 {
		ctl.TargetBufferSize = transfer.InitialBufferSize(0)
	}
	return ctl
}

func openInputs(args []string) ([]runloop.File, status.Bit) {
	if len(args) == 0 {
		return []runloop.File{{Fd: int(os.Stdin.Fd()), Name: "-"}}, status.OK
	}
	files := make([]runloop.File, 0, len(args))
	for _, fn := range args {
		f, err := os.Open(fn)
		if err != nil {
			log.Printf("pv: %s: %s\n", fn, err)
			return nil, status.OpenFailed
		}
		fi, err := f.Stat()
		blksize := int64(0)
		if err == nil {
			blksize = fi.Size() // best-effort; real block size needs a syscall.Stat_t
		}
		files = append(files, runloop.File{Fd: int(f.Fd()), Name: fn, BlockSize: blksize})
	}
	return files, status.OK
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	runtime.SetBlockProfileRate(1000000)

	if *promAddr != "" {
		promSrv := prometheusx.MustStartPrometheus(*promAddr)
		defer promSrv.Shutdown(context.Background())
	}

	ctl := buildControl()

	if ctl.WatchPID != 0 {
		router := sigctl.New()
		defer router.Finalize()
		if ctl.WatchFd >= 0 {
			rtx.Must(runloop.WatchFD(context.Background(), router, ctl, ctl.WatchPID, ctl.WatchFd), "watch-fd failed")
		} else {
			rtx.Must(runloop.WatchPID(context.Background(), router, ctl, ctl.WatchPID), "watch-pid failed")
		}
		return
	}

	files, bit := openInputs(flag.Args())
	if bit != status.OK {
		var exit status.Exit
		exit.Add(bit)
		os.Exit(exit.Code())
	}

	st := state.New(ctl)
	router := sigctl.New()
	defer router.Finalize()

	coord := cursor.New()
	if ctl.Cursor {
		if scrollLines, err := coord.Init(); err != nil {
			log.Println("pv: cursor-mode init failed, falling back to plain output:", err)
			ctl.Cursor = false
		} else {
			defer coord.Finalize()
			router.OnResume = coord.RequestReinit
			router.StillNeeded = coord.StillNeeded
			os.Stderr.WriteString(strings.Repeat("\n", scrollLines))
		}
	}

	drv := display.New(st, router, coord)

	if *remoteSocket != "" {
		listener := remotectl.NewListener(*remoteSocket, st)
		rtx.Must(listener.Listen(), "could not listen on %s", *remoteSocket)
		listener.OnApply = router.RequestReparse
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go listener.Serve(ctx)
	}

	err := runloop.Run(context.Background(), st, router, drv, runloop.Options{
		Files:         files,
		OutputFd:      ctl.OutputFd,
		LineSep:       '\n',
		TerminalWidth: terminalWidth,
	})
	rtx.Must(err, "transfer failed")

	os.Exit(st.Exit.Code())
}
