// Package runloop drives the tick cadence described by §4.10: a single
// cooperative loop that pumps the transfer engine, refreshes the
// rate-limit token bucket, advances through a list of input files, and
// renders the display on its own interval independent of the transfer
// cadence.
//
// It is grounded on the teacher repository's collector.Run: a
// context-cancelable for loop around a fixed-cadence tick, checked
// against ctx.Err() every iteration, generalized here to a
// variable-length sleep (the next tick is either "immediately, more
// data may be waiting" or "sleep until the next display deadline",
// rather than collector's fixed 10ms ticker).
package runloop

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/m-lab/pvgo/clock"
	"github.com/m-lab/pvgo/display"
	"github.com/m-lab/pvgo/metrics"
	"github.com/m-lab/pvgo/sigctl"
	"github.com/m-lab/pvgo/state"
	"github.com/m-lab/pvgo/status"
	"github.com/m-lab/pvgo/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

// File is one input in a (possibly multi-file) run.
type File struct {
	Fd        int
	Name      string
	BlockSize int64
}

// Options bundles what the main loop needs beyond the state it mutates.
type Options struct {
	Files    []File
	OutputFd int
	LineSep  byte
	// TerminalWidth is called each tick to get the current display width,
	// so the caller can own SIGWINCH-driven resize logic.
	TerminalWidth func() int
}

// tokenBucket implements the rate-limit refresh described in §4.10 step
// 3: RATE_GRANULARITY-sized grants, capped at a short burst window so a
// long idle period doesn't let the budget grow unbounded.
type tokenBucket struct {
	limit     int64
	available int64
	lastFill  clock.Time
}

func newTokenBucket(limit int64) *tokenBucket {
	return &tokenBucket{limit: limit, lastFill: clock.Read()}
}

func (b *tokenBucket) refresh(now clock.Time) int64 {
	if b.limit <= 0 {
		return -1 // unlimited
	}
	elapsed := clock.Seconds(clock.Subtract(now, b.lastFill))
	grants := int64(elapsed / state.RateGranularity.Seconds())
	if grants <= 0 {
		return b.available
	}
	b.lastFill = clock.AddNsec(b.lastFill, grants*int64(state.RateGranularity))
	b.available += grants * int64(float64(b.limit)*state.RateGranularity.Seconds())
	burstCap := b.limit * state.RateBurstWindowMultiple
	if b.available > burstCap {
		b.available = burstCap
	}
	return b.available
}

func (b *tokenBucket) spend(n int64) {
	if b.limit <= 0 {
		return
	}
	b.available -= n
	if b.available < 0 {
		b.available = 0
	}
}

// Run executes the main piping loop until every file is exhausted and
// the final display update has been emitted.
func Run(ctx context.Context, st *state.State, router *sigctl.Router, drv *display.Driver, opt Options) error {
	if len(opt.Files) == 0 {
		return fmt.Errorf("runloop: no input files")
	}

	start := clock.Read()
	nextUpdate := clock.Add(start, clock.Time{Sec: int64(st.Control.DelayStart)})
	bucket := newTokenBucket(st.Control.RateLimit)

	fileIdx := 0
	cur := opt.Files[fileIdx]
	transfer.Advise(cur.Fd)
	waitFired := !st.Control.Wait
	havePrinted := false

	for {
		if ctx.Err() != nil {
			router.TestAndClearRemoteReconfigure() // drain, nothing else to do
			break
		}

		if router.TestAndClearRemoteReconfigure() {
			drv.Recompile(st)
		}
		if router.ShouldExit() {
			break
		}

		now := clock.Read()
		budget := bucket.refresh(now)

		tickStart := time.Now()
		spliceFailedBefore := st.Transfer.SpliceFailedFd
		res, err := transfer.Tick(st, transfer.Options{
			InputFd:  cur.Fd,
			OutputFd: opt.OutputFd,
			Cansend:  budget,
			Flags:    drv.Plan.Flags,
			LineSep:  opt.LineSep,
		})
		metrics.TickDurationHistogram.With(prometheus.Labels{"phase": "transfer"}).Observe(time.Since(tickStart).Seconds())
		if st.Transfer.SpliceFailedFd == cur.Fd && spliceFailedBefore != cur.Fd {
			metrics.SpliceFallbackCount.Inc()
		}
		if err != nil {
			st.Exit.Add(status.OpenFailed)
			metrics.ErrorCount.With(prometheus.Labels{"type": "open_failed"}).Inc()
			return err
		}
		bucket.spend(res.BytesWritten)
		if res.BytesWritten > 0 {
			havePrinted = true
		}
		if st.Transfer.BufferSize > 0 {
			metrics.BufferOccupancyGauge.Set(float64(st.Transfer.ReadPosition-st.Transfer.WritePosition) / float64(st.Transfer.BufferSize))
		}

		elapsed := clock.Subtract(now, start)
		elapsed = clock.Subtract(elapsed, router.Toffset())
		st.Transfer.ElapsedSeconds = clock.Seconds(elapsed)

		if st.Control.StopAtSize && st.Control.Size > 0 && st.Transfer.TotalWritten >= st.Control.Size {
			st.Transfer.EOFIn = true
			if st.Transfer.ReadPosition == st.Transfer.WritePosition {
				st.Transfer.EOFOut = true
			}
		}

		if st.Transfer.EOFIn && st.Transfer.EOFOut {
			metrics.FilesCompletedCount.Inc()
			fileIdx++
			if fileIdx < len(opt.Files) {
				cur = opt.Files[fileIdx]
				st.ResetForNextFile(cur.Fd)
				transfer.Advise(cur.Fd)
				continue
			}
			if st.Transfer.WrittenButNotConsumed > 0 {
				time.Sleep(state.EOFSleep)
				continue
			}
			break
		}
		if st.Transfer.EOFIn && st.Transfer.WrittenButNotConsumed > 0 {
			time.Sleep(state.EOFSleep)
		}

		if st.Control.Wait && !waitFired {
			if havePrinted {
				waitFired = true
				start = clock.Read()
				nextUpdate = clock.Add(start, clock.Time{Sec: int64(st.Control.DelayStart)})
			}
			continue
		}

		if router.TestAndClearResized() {
			// Caller's TerminalWidth closure re-reads the terminal size;
			// pulling the deadline in forces a render below.
			nextUpdate = now
		}

		if clock.Compare(now, nextUpdate) >= 0 {
			width := 80
			if opt.TerminalWidth != nil {
				width = opt.TerminalWidth()
			}
			renderStart := time.Now()
			if err := drv.Tick(st, width, false); err != nil {
				return err
			}
			metrics.TickDurationHistogram.With(prometheus.Labels{"phase": "display"}).Observe(time.Since(renderStart).Seconds())
			metrics.TransferRateHistogram.Observe(st.Calc.TransferRate)
			interval := st.Control.Interval
			if interval <= 0 {
				interval = 1
			}
			nextUpdate = clock.Add(nextUpdate, clock.Time{Sec: int64(interval), Nsec: int64((interval - float64(int64(interval))) * 1e9)})
			if clock.Compare(nextUpdate, now) < 0 {
				nextUpdate = now
			}
		}
	}

	width := 80
	if opt.TerminalWidth != nil {
		width = opt.TerminalWidth()
	}
	if err := drv.Tick(st, width, true); err != nil {
		return err
	}
	finalize(st)
	return nil
}

// finalize prints the trailing newline and stats line described by
// §4.10's exit behavior.
func finalize(st *state.State) {
	if st.Control.Numeric || st.Control.NoDisplay {
		return
	}
	fmt.Fprintln(stderrLine{}, "")
	if st.Control.ShowStats {
		printStats(st)
	}
}

func printStats(st *state.State) {
	c := st.Calc
	if c.MeasurementsTaken == 0 {
		return
	}
	n := float64(c.MeasurementsTaken)
	avg := c.RateSum / n
	variance := c.RateSquaredSum/n - avg*avg
	if variance < 0 {
		variance = 0
	}
	mdev := math.Sqrt(variance)
	fmt.Fprintf(stderrLine{}, "rate min/avg/max/mdev = %.1f/%.1f/%.1f/%.1f\n", c.RateMin, avg, c.RateMax, mdev)
}

type stderrLine struct{}

func (stderrLine) Write(p []byte) (int, error) {
	return unix.Write(2, p)
}
