package cache_test

import (
	"testing"

	"github.com/m-lab/pvgo/cache"
)

func TestUpdate(t *testing.T) {
	c := cache.NewCache()
	old := c.Update(&cache.Entry{Fd: 3, DisplayName: "pipe:[1234]"})
	if old != nil {
		t.Error("old should be nil")
	}
	old = c.Update(&cache.Entry{Fd: 4, DisplayName: "/tmp/a.txt"})
	if old != nil {
		t.Error("old should be nil")
	}

	leftover := c.EndCycle()
	if len(leftover) > 0 {
		t.Error("should be empty")
	}

	old = c.Update(&cache.Entry{Fd: 4, DisplayName: "/tmp/a.txt"})
	if old == nil {
		t.Error("old should NOT be nil: fd 4 survived into the second round")
	}

	leftover = c.EndCycle()
	if len(leftover) != 1 {
		t.Fatalf("expected exactly one closed fd, got %d", len(leftover))
	}
	if _, ok := leftover[3]; !ok {
		t.Error("expected fd 3 (not re-touched this round) to be reported as closed")
	}
	if c.CycleCount() != 2 {
		t.Errorf("CycleCount() = %d, want 2", c.CycleCount())
	}
}
