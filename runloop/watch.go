package runloop

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/pvgo/cache"
	"github.com/m-lab/pvgo/calc"
	"github.com/m-lab/pvgo/clock"
	"github.com/m-lab/pvgo/display"
	"github.com/m-lab/pvgo/format"
	"github.com/m-lab/pvgo/sigctl"
	"github.com/m-lab/pvgo/state"
	"golang.org/x/sys/unix"
)

// watchLineWidth is the fallback terminal width watch mode renders
// against, mirroring runloop.go's own 80-column default — watch mode
// has no SIGWINCH-driven resize callback of its own.
const watchLineWidth = 80

// watchedFD is the Go analogue of pv-internal.h's pvwatchfd_s, minus the
// cgo-only stat fields: just enough to read a position, label a row, and
// render it through the same format/display pipeline normal transfers
// use, per pv_watchpid_loop's reuse of pv_display.
type watchedFD struct {
	pid         int
	fd          int
	displayName string
	st          *state.State
	drv         *display.Driver
}

// newWatchedFD builds a watchedFD with its own Control clone, State, and
// display.Driver, so each tracked fd gets an independent history ring,
// format plan, and shrink-wipe width state.
func newWatchedFD(pid, fd int, name string, ctl *state.Control) *watchedFD {
	st := state.New(cloneControl(ctl))
	st.Control.Name = name
	return &watchedFD{
		pid:         pid,
		fd:          fd,
		displayName: name,
		st:          st,
		drv:         display.New(st, nil, nil),
	}
}

// WatchFD tracks a single fd belonging to another process, per §4.10's
// "watchfd_loop obtains position_now by reading the target's fd offset".
func WatchFD(ctx context.Context, router *sigctl.Router, ctl *state.Control, pid, fd int) error {
	name, err := resolveFdName(pid, fd)
	if err != nil {
		return err
	}
	w := newWatchedFD(pid, fd, name, ctl)
	return runWatchLoop(ctx, router, []*watchedFD{w})
}

// WatchPID tracks every open fd of a process, refreshing the list each
// tick as fds are opened and closed. Presence/absence across rounds is
// tracked with a cache.Cache, the same current/previous map-swap pattern
// tcp-info uses to diff connection sets between polls.
func WatchPID(ctx context.Context, router *sigctl.Router, ctl *state.Control, pid int) error {
	watched := map[int]*watchedFD{}
	fdCache := cache.NewCache()
	prevRows := 0

	start := clock.Read()
	nextUpdate := clock.Add(start, clock.Time{Sec: int64(ctl.DelayStart)})

	for {
		if ctx.Err() != nil || router.ShouldExit() {
			break
		}

		fds, err := listOpenFds(pid)
		if err != nil {
			return err
		}
		for _, fd := range fds {
			if _, ok := watched[fd]; !ok {
				name, err := resolveFdName(pid, fd)
				if err != nil {
					continue
				}
				watched[fd] = newWatchedFD(pid, fd, name, ctl)
			}
			fdCache.Update(&cache.Entry{Fd: fd, DisplayName: watched[fd].displayName})
		}
		for fd := range fdCache.EndCycle() {
			delete(watched, fd)
		}

		now := clock.Read()
		if clock.Compare(now, nextUpdate) >= 0 {
			rows := renderWatchRows(watched)
			emitWatchFrame(rows, prevRows)
			prevRows = len(rows)

			interval := ctl.Interval
			if interval <= 0 {
				interval = 1
			}
			nextUpdate = clock.Add(nextUpdate, clock.Time{Sec: int64(interval)})
			if clock.Compare(nextUpdate, now) < 0 {
				nextUpdate = now
			}
		}

		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// runWatchLoop drives the shared single/multi-fd watch cadence: read each
// tracked fd's current offset, compute a rate from the delta, render one
// row per fd, and step the cursor back up before the next tick.
func runWatchLoop(ctx context.Context, router *sigctl.Router, fds []*watchedFD) error {
	start := clock.Read()
	nextUpdate := clock.Add(start, clock.Time{Sec: 0})
	prevRows := 0

	for {
		if ctx.Err() != nil || router.ShouldExit() {
			break
		}

		now := clock.Read()
		for _, w := range fds {
			pos, err := readFdOffset(w.pid, w.fd)
			if err != nil {
				continue
			}
			w.st.Transfer.TotalWritten = pos
			w.st.Transfer.ElapsedSeconds = clock.Seconds(clock.Subtract(now, start))
		}

		if clock.Compare(now, nextUpdate) >= 0 {
			lines := make([]string, 0, len(fds))
			for _, w := range fds {
				lines = append(lines, watchLine(w))
			}
			emitWatchFrame(lines, prevRows)
			prevRows = len(lines)

			nextUpdate = clock.Add(now, clock.Time{Sec: 1})
		}

		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func renderWatchRows(watched map[int]*watchedFD) []string {
	lines := make([]string, 0, len(watched))
	for _, w := range watched {
		lines = append(lines, watchLine(w))
	}
	return lines
}

// watchLine runs one fd's calc+render pass through the same pipeline
// pv_display uses for ordinary transfers, so watch mode shows the
// configured format string (progress bar, rate, ETA, and all) instead of
// a fixed byte count.
func watchLine(w *watchedFD) string {
	calc.Calculate(w.st, false)
	width := w.st.Control.Width
	if width <= 0 {
		width = watchLineWidth
	}
	rc := &format.RenderContext{St: w.st}
	return w.drv.RenderLine(rc, w.drv.Plan, width)
}

// emitWatchFrame writes one line per tracked fd, stepping the cursor back
// up first (ESC[A per previous row) and padding with blank lines when the
// fd count has shrunk since the last tick, per §4.10.
func emitWatchFrame(lines []string, prevRows int) {
	var b strings.Builder
	for i := 0; i < prevRows; i++ {
		b.WriteString("\x1b[A")
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\x1b[K\n")
	}
	for i := len(lines); i < prevRows; i++ {
		b.WriteString("\x1b[K\n")
	}
	unix.Write(2, []byte(b.String()))
}

// resolveFdName reads /proc/<pid>/fd/<fd>'s symlink target and returns its
// basename, the display_name pv-internal.h derives for watched fds.
func resolveFdName(pid, fd int) (string, error) {
	link := fmt.Sprintf("/proc/%d/fd/%d", pid, fd)
	target, err := os.Readlink(link)
	if err != nil {
		return "", fmt.Errorf("runloop: resolve %s: %w", link, err)
	}
	return filepath.Base(target), nil
}

// readFdOffset parses the "pos:" line of /proc/<pid>/fdinfo/<fd>.
func readFdOffset(pid, fd int) (int64, error) {
	path := fmt.Sprintf("/proc/%d/fdinfo/%d", pid, fd)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "pos:") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, fmt.Errorf("runloop: no pos: line in %s", path)
}

// listOpenFds enumerates the numeric entries of /proc/<pid>/fd.
func listOpenFds(pid int) ([]int, error) {
	dir := fmt.Sprintf("/proc/%d/fd", pid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runloop: list %s: %w", dir, err)
	}
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fds = append(fds, n)
	}
	return fds, nil
}

// cloneControl makes a per-fd Control so each watched fd gets its own
// history ring and format plan state, sharing only the display options.
func cloneControl(ctl *state.Control) *state.Control {
	c := *ctl
	return &c
}
