package bufferpool

import "sync"

// ClockReplacer selects an eviction victim among unpinned frames using the
// CLOCK (second-chance) algorithm: a circular sweep over frame ids with a
// single reference bit per id, ported from the teacher's pkg/clockx with
// the method names spec'd for this subsystem (Insert/Victim/Erase/Size).
type ClockReplacer struct {
	mu sync.Mutex

	ref     []bool
	present []bool
	hand    int
	size    int // number of present (evictable) ids
}

// NewClockReplacer builds a replacer over frame ids [0, capacity).
func NewClockReplacer(capacity int) *ClockReplacer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ClockReplacer{
		ref:     make([]bool, capacity),
		present: make([]bool, capacity),
	}
}

// Insert marks frameID as an eviction candidate with its reference bit set.
// Called when a frame's pin count drops to zero.
func (c *ClockReplacer) Insert(frameID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frameID < 0 || frameID >= len(c.ref) {
		return
	}
	if !c.present[frameID] {
		c.present[frameID] = true
		c.size++
	}
	c.ref[frameID] = true
}

// Victim selects and removes a victim frame id, or reports ok=false if no
// candidate is present. At most one full sweep plus one extra step is
// needed: a first pass clears every reference bit it finds set, so the
// second pass is guaranteed to find a clear bit.
func (c *ClockReplacer) Victim() (frameID int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.ref)
	if n == 0 || c.size == 0 {
		return -1, false
	}

	for i := 0; i < 2*n; i++ {
		idx := c.hand

		if c.present[idx] {
			if !c.ref[idx] {
				c.present[idx] = false
				c.size--
				c.hand = (c.hand + 1) % n
				return idx, true
			}
			c.ref[idx] = false
		}

		c.hand = (c.hand + 1) % n
	}

	return -1, false
}

// Erase removes frameID from the candidate set, if present.
func (c *ClockReplacer) Erase(frameID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frameID < 0 || frameID >= len(c.ref) {
		return false
	}
	if !c.present[frameID] {
		return false
	}
	c.present[frameID] = false
	c.ref[frameID] = false
	c.size--
	return true
}

// Size reports the number of frame ids currently eligible for eviction.
func (c *ClockReplacer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
