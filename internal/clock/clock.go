package clock

import (
	"fmt"
	"math"
	"strings"
)

// Never is the contact time of a process that has not been addressed yet.
// It sorts before every real tick.
const Never int64 = math.MinInt64

// Contacts holds the scalar clock and the last contact tick of every rank.
// Thread-safe operations should be handled by the caller.
type Contacts struct {
	now  int64
	last []int64
}

// New creates a contact clock for ranks 0..size-1, none of them contacted.
func New(size int) *Contacts {
	last := make([]int64, size)
	for i := range last {
		last[i] = Never
	}
	return &Contacts{last: last}
}

// Now returns the current tick.
func (c *Contacts) Now() int64 {
	return c.now
}

// Get returns the last contact tick of rank, or Never if unknown.
func (c *Contacts) Get(rank int) int64 {
	if rank < 0 || rank >= len(c.last) {
		return Never
	}
	return c.last[rank]
}

// Touch records that the given ranks were contacted at the current tick,
// then advances the clock.
func (c *Contacts) Touch(ranks ...int) {
	for _, r := range ranks {
		if r >= 0 && r < len(c.last) {
			c.last[r] = c.now
		}
	}
	c.now++
}

// Reset sets the clock and every contact tick to zero. Called when the
// access mode of an array switches.
func (c *Contacts) Reset() {
	c.now = 0
	for i := range c.last {
		c.last[i] = 0
	}
}

// LeastRecent picks among candidates the rank contacted longest ago. If
// prefer is a candidate it wins outright (a local copy needs no transfer).
// Ties go to the earliest candidate. ok is false when there are no
// candidates.
func (c *Contacts) LeastRecent(candidates []int, prefer int) (rank int, ok bool) {
	rank = -1
	best := c.now + 1
	for _, cand := range candidates {
		if cand == prefer {
			return cand, true
		}
		if t := c.Get(cand); t < best {
			rank, best = cand, t
		}
	}
	return rank, rank != -1
}

// Copy creates a deep copy of the clock.
func (c *Contacts) Copy() *Contacts {
	return &Contacts{
		now:  c.now,
		last: append([]int64(nil), c.last...),
	}
}

// String returns a string representation of the clock.
func (c *Contacts) String() string {
	parts := make([]string, 0, len(c.last))
	for rank, t := range c.last {
		if t == Never {
			parts = append(parts, fmt.Sprintf("%d:-", rank))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d:%d", rank, t))
	}
	return fmt.Sprintf("now=%d {%s}", c.now, strings.Join(parts, ", "))
}
