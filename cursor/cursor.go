// Package cursor coordinates terminal output across sibling instances of
// the tool sharing a pipeline, so each writes on its own terminal row
// instead of clobbering the others.
//
// It is grounded on pv-internal.h's pvcursorstate_s field layout
// (y_topmost, tty_tostop_added, pvcount, pvmax, y_lastread, y_offset,
// needreinit, noipc) and on the shared-memory + advisory-lock mechanism
// pv/cursor.c builds on SysV IPC, reimplemented with the Shmget/Shmat/
// Shmdt/Shmctl and FcntlFlock wrappers golang.org/x/sys/unix already
// provides for exactly this purpose (the same dependency the clock and
// signal packages use for their syscalls).
package cursor

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sharedLayout is the fixed byte layout of the shared segment: four
// little-endian int32 fields, YTopmost, TTYTostopAdded, PVCount, PVMax —
// the pvcount/pvmax pair must live here rather than in process memory,
// since every `pv -cursor` instance in a pipeline is a separate OS
// process and only the shared segment is visible to all of them.
const sharedLayout = 16

// Coordinator manages one instance's participation in cursor mode.
type Coordinator struct {
	lockPath string
	lockFd   int

	shmKey  int
	shmID   int
	shmAddr uintptr
	noIPC   bool

	YStart     int // our row, relative to the terminal at Init time
	yOffset    int
	pvCount    int32 // cached copy of the shared segment's count after our last read
	pvMax      int32 // cached copy of the shared segment's max after our last read
	needReinit int32 // atomic flag, set by the signal router's OnResume hook

	mu sync.Mutex
}

// New prepares a Coordinator for the current user. It does not touch the
// filesystem or IPC until Init is called.
func New() *Coordinator {
	uid := os.Getuid()
	return &Coordinator{
		lockPath: fmt.Sprintf("/tmp/pv-%d.lock", uid),
		lockFd:   -1,
		shmKey:   ftok(uid),
	}
}

// ftok derives a SysV-style key from the uid, analogous to pv/cursor.c's
// use of ftok() on a per-user path.
func ftok(uid int) int {
	return 0x50560000 | (uid & 0xffff) // "PV" tag plus uid in the low bits
}

// Init acquires the advisory lock, attaches (creating if necessary) the
// shared segment, and registers this instance, returning the number of
// newline scrolls the caller should print to reserve its row.
func (c *Coordinator) Init() (scrollLines int, err error) {
	fd, err := unix.Open(c.lockPath, unix.O_CREAT|unix.O_RDWR, 0600)
	if err != nil {
		return 0, fmt.Errorf("cursor: open lock file: %w", err)
	}
	c.lockFd = fd

	c.lock()
	defer c.unlock()

	id, err := unix.Shmget(c.shmKey, sharedLayout, unix.IPC_CREAT|0600)
	if err != nil {
		c.noIPC = true
		c.YStart = 0
		c.yOffset = 0
		return 0, nil
	}
	c.shmID = id

	addr, err := unix.Shmat(id, 0, 0)
	if err != nil {
		c.noIPC = true
		return 0, nil
	}
	c.shmAddr = addr

	topmost := c.getTopmost()
	if topmost == 0 {
		c.setTopmost(int32(c.YStart))
		topmost = int32(c.YStart)
	}

	c.pvCount = c.incrementCount()
	c.yOffset = int(c.pvCount - 1)
	c.pvMax = c.getMax()
	if c.pvCount > c.pvMax {
		c.pvMax = c.pvCount
		c.setMax(c.pvMax)
	}
	return c.yOffset, nil
}

func (c *Coordinator) getTopmost() int32 {
	if c.shmAddr == 0 {
		return 0
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	return int32(binary.LittleEndian.Uint32(buf[0:4]))
}

func (c *Coordinator) setTopmost(v int32) {
	if c.shmAddr == 0 {
		return
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v))
}

func (c *Coordinator) tostopAdded() bool {
	if c.shmAddr == 0 {
		return false
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	return binary.LittleEndian.Uint32(buf[4:8]) != 0
}

func (c *Coordinator) setTostopAdded(v bool) {
	if c.shmAddr == 0 {
		return
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	n := uint32(0)
	if v {
		n = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], n)
}

func (c *Coordinator) getCount() int32 {
	if c.shmAddr == 0 {
		return 0
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	return int32(binary.LittleEndian.Uint32(buf[8:12]))
}

func (c *Coordinator) setCount(v int32) {
	if c.shmAddr == 0 {
		return
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(v))
}

func (c *Coordinator) getMax() int32 {
	if c.shmAddr == 0 {
		return 0
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	return int32(binary.LittleEndian.Uint32(buf[12:16]))
}

func (c *Coordinator) setMax(v int32) {
	if c.shmAddr == 0 {
		return
	}
	buf := (*[sharedLayout]byte)(unsafe.Pointer(c.shmAddr))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(v))
}

// incrementCount bumps the instance count recorded in the shared segment
// under the advisory lock (already held by the caller) and returns the
// new count. Every sibling process attaching to the same key sees the
// same counter, since it lives in shared memory rather than in any one
// process's address space; degrades to "always 1" when IPC is
// unavailable, since getCount/setCount are then no-ops against a nil
// address.
func (c *Coordinator) incrementCount() int32 {
	n := c.getCount() + 1
	c.setCount(n)
	if c.noIPC {
		return 1
	}
	return n
}

// decrementCount mirrors incrementCount on the way out, floored at zero.
func (c *Coordinator) decrementCount() int32 {
	n := c.getCount() - 1
	if n < 0 {
		n = 0
	}
	c.setCount(n)
	return n
}

// NeedsReinit reports and clears the reinit flag set by RequestReinit.
func (c *Coordinator) NeedsReinit() bool {
	return atomic.SwapInt32(&c.needReinit, 0) != 0
}

// RequestReinit is wired as the signal router's OnResume callback: after
// SIGCONT, row assignment may need to be recomputed in case the terminal
// was resized while stopped.
func (c *Coordinator) RequestReinit() {
	atomic.StoreInt32(&c.needReinit, 1)
}

// Reinit re-seeds the shared y_topmost from YStart when it is zero, called
// from the main loop when NeedsReinit reports true. It leaves this
// instance's offset and the shared y_topmost otherwise unchanged and does
// not scroll the terminal.
func (c *Coordinator) Reinit() {
	if c.noIPC {
		return
	}
	c.lock()
	defer c.unlock()
	topmost := c.getTopmost()
	if topmost == 0 {
		c.setTopmost(int32(c.YStart))
	}
}

// Update writes buf to the coordinator's assigned row, serialized against
// sibling instances by the advisory lock.
func (c *Coordinator) Update(buf string) error {
	c.lock()
	defer c.unlock()

	seq := fmt.Sprintf("\x1b[s\x1b[%dB\x1b[K%s\x1b[u", c.yOffset, buf)
	_, err := os.Stderr.WriteString(seq)
	return err
}

// StillNeeded reports whether another instance still needs TOSTOP held,
// for wiring into sigctl.Router.StillNeeded.
func (c *Coordinator) StillNeeded() bool {
	if c.noIPC {
		return false
	}
	c.lock()
	defer c.unlock()
	return c.getCount() > 1
}

// Finalize decrements the instance count, clears the shared topmost row
// and tty_tostop_added flag if we were the last holder, releases the lock,
// and detaches shared memory. The terminal's TOSTOP bit itself is restored
// by sigctl.Router.Finalize.
func (c *Coordinator) Finalize() {
	remaining := int32(0)

	if !c.noIPC {
		c.lock()
		remaining = c.decrementCount()
		if remaining <= 0 {
			c.setTopmost(0)
			c.setTostopAdded(false)
		}
		c.unlock()
		_ = unix.Shmdt(c.shmAddr)
		if remaining <= 0 {
			_, _ = unix.Shmctl(c.shmID, unix.IPC_RMID, nil)
		}
	}

	if c.lockFd != -1 {
		_ = unix.Close(c.lockFd)
		c.lockFd = -1
	}
}

func (c *Coordinator) lock() {
	c.mu.Lock()
	if c.lockFd == -1 {
		return
	}
	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	_ = unix.FcntlFlock(uintptr(c.lockFd), unix.F_SETLKW, &lk)
}

func (c *Coordinator) unlock() {
	if c.lockFd != -1 {
		lk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
		_ = unix.FcntlFlock(uintptr(c.lockFd), unix.F_SETLKW, &lk)
	}
	c.mu.Unlock()
}
