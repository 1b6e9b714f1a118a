// Package cache keeps a cache of watched-fd records across polling
// rounds. It is NOT threadsafe.
package cache

// Entry is the cache's value type: a tracked fd and its display name, as
// resolved by runloop's /proc/<pid>/fd/<fd> symlink lookup.
type Entry struct {
	Fd          int
	DisplayName string
}

// Cache tracks watched fds across polling rounds so runloop's
// watchpid_loop can detect which fds have closed since the last round,
// without re-walking the whole set on every tick.
//
// It is grounded on tcp-info's connection cache: a current/previous map
// pair swapped at the end of each round, so anything left in previous
// after a round's updates have all landed is something that disappeared.
type Cache struct {
	current  map[int]*Entry
	previous map[int]*Entry
	cycles   int64
}

// NewCache creates a cache object with capacity for a handful of fds.
// The map size is adjusted on every round, but we have to start somewhere.
func NewCache() *Cache {
	return &Cache{
		current:  make(map[int]*Entry, 16),
		previous: make(map[int]*Entry, 0),
	}
}

// Update records fd as present this round, and returns the previous
// round's entry for it if one existed (so the caller can reuse its
// per-fd state rather than rebuilding it).
func (c *Cache) Update(e *Entry) *Entry {
	c.current[e.Fd] = e
	evicted, ok := c.previous[e.Fd]
	if ok {
		delete(c.previous, e.Fd)
	}
	return evicted
}

// EndCycle marks the completion of one polling round. It returns every
// entry that was present in a prior round but was not touched by Update
// this round — i.e. fds the watched process has since closed.
func (c *Cache) EndCycle() map[int]*Entry {
	tmp := c.previous
	c.previous = c.current
	// Allocate a bit more than the previous round's size, to accommodate
	// newly opened fds without much reallocation as the set churns.
	c.current = make(map[int]*Entry, len(c.previous)+len(c.previous)/10+4)
	c.cycles++
	return tmp
}

// CycleCount returns the number of times EndCycle has been called.
func (c *Cache) CycleCount() int64 {
	return c.cycles
}
