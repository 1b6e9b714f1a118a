package cursor

import (
	"testing"
	"unsafe"
)

func TestFtokIncludesUid(t *testing.T) {
	a := ftok(1000)
	b := ftok(1001)
	if a == b {
		t.Error("ftok should differ across uids")
	}
	if a&0xffff != 1000 {
		t.Errorf("ftok(1000) low bits = %d, want 1000", a&0xffff)
	}
}

func TestRequestReinitAndNeedsReinit(t *testing.T) {
	c := &Coordinator{}
	if c.NeedsReinit() {
		t.Fatal("fresh coordinator should not need reinit")
	}
	c.RequestReinit()
	if !c.NeedsReinit() {
		t.Fatal("expected NeedsReinit to report true once requested")
	}
	if c.NeedsReinit() {
		t.Fatal("NeedsReinit should clear the flag after reporting it")
	}
}

// TestStillNeededReflectsSharedCount exercises the cross-instance
// coordination contract directly: two Coordinators pointed at the same
// backing memory (standing in for two sibling processes attached to the
// same shmget key) must see each other's increments and decrements,
// since pvcount/pvmax now live in the shared segment rather than in any
// one process's address space.
func TestStillNeededReflectsSharedCount(t *testing.T) {
	buf := make([]byte, sharedLayout)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	a := &Coordinator{shmAddr: addr, lockFd: -1}
	b := &Coordinator{shmAddr: addr, lockFd: -1}

	a.pvCount = a.incrementCount()
	if a.StillNeeded() {
		t.Error("a should not need to stay while it's the only instance")
	}

	b.pvCount = b.incrementCount()
	if !a.StillNeeded() {
		t.Error("expected a.StillNeeded() once b has joined via the shared segment")
	}
	if !b.StillNeeded() {
		t.Error("expected b.StillNeeded() while a is still attached")
	}

	if remaining := a.decrementCount(); remaining != 1 {
		t.Errorf("decrementCount() = %d, want 1", remaining)
	}
	if b.StillNeeded() {
		t.Error("expected !b.StillNeeded() once a has left")
	}
}

func TestIncrementAndMaxTrackAcrossInstances(t *testing.T) {
	buf := make([]byte, sharedLayout)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	a := &Coordinator{shmAddr: addr, lockFd: -1}
	b := &Coordinator{shmAddr: addr, lockFd: -1}

	if n := a.incrementCount(); n != 1 {
		t.Errorf("a.incrementCount() = %d, want 1", n)
	}
	if n := b.incrementCount(); n != 2 {
		t.Errorf("b.incrementCount() = %d, want 2 (shared with a)", n)
	}
	a.setMax(2)
	if got := b.getMax(); got != 2 {
		t.Errorf("b.getMax() = %d, want 2 (written by a)", got)
	}
}
