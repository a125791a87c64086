// Package coord holds the per-process coordination state shared by every
// extraction consumer: the single-slot work mutex and the session-scoped
// set of items known to fail extraction. Both live in process memory only
// and reset on restart.
package coord

import "sync"

// Coordinator serializes media decoding within one agent process. At most
// one consumer may hold the work slot at any instant; the failure set is
// monotonic for the lifetime of the process.
type Coordinator struct {
	mu     sync.Mutex
	busy   bool
	holder string
	bad    map[string]struct{}
}

func New() *Coordinator {
	return &Coordinator{bad: make(map[string]struct{})}
}

// TryClaim takes the work slot for the given item id. Returns false if
// another extraction is already in flight.
func (c *Coordinator) TryClaim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	c.holder = id
	return true
}

// Release frees the work slot. Releasing with an id that does not hold the
// slot is a no-op, so a late cancel path cannot free someone else's claim.
func (c *Coordinator) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy || c.holder != id {
		return
	}
	c.busy = false
	c.holder = ""
}

// Busy reports whether any consumer holds the work slot.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Holder returns the item id currently holding the slot, or "".
func (c *Coordinator) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// MarkBad records that extraction failed for this item. Entries are never
// removed; the set only resets when the process restarts.
func (c *Coordinator) MarkBad(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bad[id] = struct{}{}
}

// IsKnownBad reports whether this item already failed extraction in this
// session. Only the opportunistic repair paths consult this; the idle and
// bulk coordinators let the remote queue decide what gets retried.
func (c *Coordinator) IsKnownBad(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bad[id]
	return ok
}
