// Package sigctl is the signal router: it captures terminal, stop/continue,
// resize, termination, and remote-reconfigure signals into lock-free flags
// and small bookkeeping fields that the main loop polls once per tick.
//
// It is grounded on pv/signal.c. Where the C original installs a classic
// sigaction handler that may only touch a sig_atomic_t or call a short list
// of async-signal-safe functions, this package instead runs one dispatch
// goroutine reading from a buffered os/signal channel (the idiomatic Go
// equivalent — Go delivers signals on an ordinary goroutine, not inside a
// restricted handler context) and stores flags with sync/atomic so the main
// loop's tick can read them without a data race, matching the "volatile
// sig_atomic_t" contract bit for bit.
package sigctl

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/m-lab/pvgo/clock"
	"golang.org/x/sys/unix"
)

// flag is a lock-free boolean settable from the dispatch goroutine and
// readable from the main loop.
type flag struct {
	v int32
}

func (f *flag) set()        { atomic.StoreInt32(&f.v, 1) }
func (f *flag) clear()      { atomic.StoreInt32(&f.v, 0) }
func (f *flag) isSet() bool { return atomic.LoadInt32(&f.v) != 0 }

// testAndClear reports whether the flag was set, and clears it.
func (f *flag) testAndClear() bool {
	return atomic.SwapInt32(&f.v, 0) != 0
}

// Router owns the transient flags described in spec §3 ("Transient
// flags") and the signal-driven bookkeeping (stop-time offset, saved
// stderr fd, SIGUSR2 sender) described in pv/signal.c.
type Router struct {
	ReparseDisplay        flag
	TerminalResized       flag
	TriggerExit           flag
	ClearTTYTostopOnExit  flag
	SuspendStderr         flag
	SkipNextSigcont       flag
	PipeClosed            flag
	RemoteReconfigure     flag
	RemoteReconfigureFrom int32 // best-effort sender pid; 0 if unknown

	mu            sync.Mutex
	oldStderr     int // saved dup of fd 2 while redirected to /dev/null, -1 if not redirected
	tstpTime      clock.Time
	toffset       clock.Time
	ttyTostopAdded bool
	nextBgCheck   time.Time

	sigCh     chan os.Signal
	pauseCh   chan os.Signal
	pauseOn   bool
	done      chan struct{}

	// OnResume, if set, is called after SIGCONT bookkeeping completes
	// (stderr restored, TOSTOP reasserted). Main wiring uses this to ask
	// the cursor coordinator to reinitialise its row assignment.
	OnResume func()

	// StillNeeded, if set, is consulted at Finalize() to decide whether
	// clearing TOSTOP must be deferred to a sibling "pv -c" instance.
	// Returns true if some other instance still needs TOSTOP set.
	StillNeeded func() bool
}

// New installs the signal router and ensures TOSTOP is set on stderr's
// controlling terminal, mirroring pv_sig_init.
func New() *Router {
	r := &Router{oldStderr: -1}
	r.sigCh = make(chan os.Signal, 16)
	r.pauseCh = make(chan os.Signal, 4)
	r.done = make(chan struct{})

	signal.Notify(r.sigCh,
		syscall.SIGPIPE,
		syscall.SIGTTOU,
		syscall.SIGWINCH,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGUSR2,
	)
	r.Allowpause()

	go r.dispatch()

	r.ensureTTYTostop()
	return r
}

// NewForTest returns a Router with the zero-value landmine (oldStderr
// defaulting to 0, which CheckBackground would read as "stderr is
// redirected") fixed, but without installing signal handlers or touching
// the terminal. Exported for other packages' tests that need a Router to
// wire through without a real signal-handling process.
func NewForTest() *Router {
	return &Router{oldStderr: -1}
}

func (r *Router) dispatch() {
	for {
		select {
		case sig, ok := <-r.sigCh:
			if !ok {
				return
			}
			r.handle(sig)
		case sig, ok := <-r.pauseCh:
			if !ok {
				continue
			}
			r.handlePause(sig)
		case <-r.done:
			return
		}
	}
}

func (r *Router) handle(sig os.Signal) {
	switch sig {
	case syscall.SIGPIPE:
		// Ignored: closed downstream is detected via EPIPE on write,
		// not by dying here.
	case syscall.SIGTTOU:
		r.ttou()
	case syscall.SIGWINCH:
		r.TerminalResized.set()
	case syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM:
		r.TriggerExit.set()
	case syscall.SIGUSR2:
		r.RemoteReconfigure.set()
	}
}

func (r *Router) handlePause(sig os.Signal) {
	switch sig {
	case syscall.SIGTSTP:
		r.mu.Lock()
		r.tstpTime = clock.Read()
		r.mu.Unlock()
		_ = unix.Kill(os.Getpid(), unix.SIGSTOP)
	case syscall.SIGCONT:
		r.cont()
	}
}

// ttou redirects stderr to /dev/null, remembering the previous fd, so a
// backgrounded process doesn't garble the terminal.
func (r *Router) ttou() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fd, err := unix.Open("/dev/null", unix.O_RDWR, 0)
	if err != nil {
		return
	}
	if r.oldStderr == -1 {
		dup, err := unix.Dup(2)
		if err == nil {
			r.oldStderr = dup
		}
	}
	_ = unix.Dup2(fd, 2)
	_ = unix.Close(fd)
	r.SuspendStderr.set()
}

// cont handles SIGCONT: fold stopped-time into the offset, restore
// stderr, reassert TOSTOP, and let the cursor coordinator know it may
// need to reinitialise.
func (r *Router) cont() {
	r.mu.Lock()
	if !r.tstpTime.IsZero() {
		now := clock.Read()
		stopped := clock.Subtract(now, r.tstpTime)
		r.toffset = clock.Add(r.toffset, stopped)
		r.tstpTime = clock.Zero()
	}
	if r.oldStderr != -1 {
		_ = unix.Dup2(r.oldStderr, 2)
		_ = unix.Close(r.oldStderr)
		r.oldStderr = -1
		r.SuspendStderr.clear()
	}
	r.mu.Unlock()

	r.ensureTTYTostop()
	r.TerminalResized.set()

	if r.OnResume != nil {
		r.OnResume()
	}
}

// ensureTTYTostop sets the TOSTOP termios attribute on stderr's terminal
// if it isn't already set, remembering whether we were the one to set it.
func (r *Router) ensureTTYTostop() {
	term, err := unix.IoctlGetTermios(2, ioctlGetTermios)
	if err != nil {
		return
	}
	if term.Lflag&unix.TOSTOP != 0 {
		return
	}
	term.Lflag |= unix.TOSTOP
	if err := unix.IoctlSetTermios(2, ioctlSetTermios, term); err == nil {
		r.mu.Lock()
		r.ttyTostopAdded = true
		r.mu.Unlock()
	}
}

// clearTTYTostop clears TOSTOP if we were the one to set it.
func (r *Router) clearTTYTostop() {
	term, err := unix.IoctlGetTermios(2, ioctlGetTermios)
	if err != nil {
		return
	}
	if term.Lflag&unix.TOSTOP == 0 {
		return
	}
	term.Lflag &^= unix.TOSTOP
	_ = unix.IoctlSetTermios(2, ioctlSetTermios, term)
}

// Nopause detaches the SIGTSTP/SIGCONT handling so the main loop can
// adjust its own timers without re-entering the pause path.
func (r *Router) Nopause() {
	if !r.pauseOn {
		return
	}
	signal.Stop(r.pauseCh)
	r.pauseOn = false
}

// Allowpause reattaches SIGTSTP/SIGCONT handling.
func (r *Router) Allowpause() {
	if r.pauseOn {
		return
	}
	signal.Notify(r.pauseCh, syscall.SIGTSTP, syscall.SIGCONT)
	r.pauseOn = true
}

// CheckBackground restores stderr from the saved backup if it differs, at
// most once per second, mirroring pv_sig_checkbg's static next_check
// throttle so a foregrounded-again process resumes printing.
func (r *Router) CheckBackground() {
	now := time.Now()
	if now.Before(r.nextBgCheck) {
		return
	}
	r.nextBgCheck = now.Add(time.Second)

	r.mu.Lock()
	if r.oldStderr == -1 {
		r.mu.Unlock()
		return
	}
	_ = unix.Dup2(r.oldStderr, 2)
	_ = unix.Close(r.oldStderr)
	r.oldStderr = -1
	r.SuspendStderr.clear()
	r.mu.Unlock()

	r.ensureTTYTostop()
	if r.OnResume != nil {
		r.OnResume()
	}
}

// Toffset returns the cumulative time spent suspended between SIGTSTP and
// SIGCONT, to be subtracted from wall-clock elapsed time.
func (r *Router) Toffset() clock.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toffset
}

// InForeground reports whether this process's group is the terminal's
// foreground process group.
func InForeground() bool {
	pgrp, err := unix.IoctlGetInt(2, unix.TIOCGPGRP)
	if err != nil {
		// No controlling terminal (or not a tty): treat as foreground,
		// matching pv's behaviour of not suppressing output in that case.
		return true
	}
	return pgrp == unix.Getpgrp()
}

// Finalize restores default signal handling and, if we added TOSTOP and no
// sibling cursor-mode instance still needs it, clears it again.
func (r *Router) Finalize() {
	signal.Stop(r.sigCh)
	signal.Stop(r.pauseCh)
	close(r.done)

	r.mu.Lock()
	needClear := r.ttyTostopAdded
	r.mu.Unlock()

	if r.StillNeeded != nil && r.StillNeeded() {
		needClear = false
	}

	if needClear && InForeground() {
		r.clearTTYTostop()
		r.mu.Lock()
		r.ttyTostopAdded = false
		r.mu.Unlock()
	}
}

// TestAndClearReparse reports and clears ReparseDisplay.
func (r *Router) TestAndClearReparse() bool { return r.ReparseDisplay.testAndClear() }

// TestAndClearResized reports and clears TerminalResized.
func (r *Router) TestAndClearResized() bool { return r.TerminalResized.testAndClear() }

// ShouldExit reports whether a termination signal has been received.
func (r *Router) ShouldExit() bool { return r.TriggerExit.isSet() }

// IsPipeClosed reports whether the output pipe was found closed.
func (r *Router) IsPipeClosed() bool { return r.PipeClosed.isSet() }

// MarkPipeClosed records that the output pipe is gone.
func (r *Router) MarkPipeClosed() { r.PipeClosed.set() }

// RequestReparse asks the display driver to recompile the format string,
// e.g. after a remote reconfigure replaces it.
func (r *Router) RequestReparse() { r.ReparseDisplay.set() }

// TestAndClearRemoteReconfigure reports and clears RemoteReconfigure.
func (r *Router) TestAndClearRemoteReconfigure() bool {
	return r.RemoteReconfigure.testAndClear()
}
