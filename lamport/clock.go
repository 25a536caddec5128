// Package lamport implements the node's logical clock and the randomized
// round scheduler that generates local and send events.
package lamport

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	errs "github.com/distcodep7/lamport/internal/errors"
)

const (
	initialClock = 1
	maxLocalStep = 5
)

// Clock is a Lamport clock. The zero value is not usable; call NewClock.
// Not safe for concurrent use: it belongs to a single node loop.
type Clock struct {
	value  uint64
	events uint64
	rng    *rand.Rand
}

// NewClock returns a clock at 1. rng drives the local tick increments.
func NewClock(rng *rand.Rand) *Clock {
	return &Clock{value: initialClock, rng: rng}
}

func (c *Clock) Value() uint64 { return c.value }

// Events counts local and send events. Receives are not counted.
func (c *Clock) Events() uint64 { return c.events }

// Observe merges a clock carried by a received message: max(remote, clock) + 1.
// The value saturates at math.MaxUint64 rather than wrapping.
func (c *Clock) Observe(remote uint64) uint64 {
	if remote > c.value {
		c.value = remote
	}
	c.value = addSat(c.value, 1)
	return c.value
}

// ParseRemote parses the clock carried by a clock frame: a non-negative base
// 10 integer below math.MaxUint64, so that a merge can still advance past it.
func ParseRemote(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: clock value %q", errs.ErrProtocol, s)
	}
	if v == math.MaxUint64 {
		return 0, fmt.Errorf("%w: clock value %q out of range", errs.ErrProtocol, s)
	}
	return v, nil
}

// LocalTick advances the clock by a uniform random step in [1,5] and returns
// the step.
func (c *Clock) LocalTick() uint64 {
	step := uint64(c.rng.Intn(maxLocalStep)) + 1
	c.value = addSat(c.value, step)
	c.events++
	return step
}

// SendTick records a send event. The clock is not advanced; the returned
// value is the timestamp to put on the outgoing message.
func (c *Clock) SendTick() uint64 {
	c.events++
	return c.value
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
