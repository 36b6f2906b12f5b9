// Package exec supplies the ambient execution facts every operation needs:
// the engine's own address, the clock, and the global operation lock that
// serialises mutating operations.
package exec

import (
	"sync"
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
)

// Clock abstracts the current time so tests can drive scheduling.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Env is the execution environment shared by all services. Every mutating
// operation takes the Env lock for its whole duration, so each runs against
// a consistent snapshot of state and leaves the ledger valid before the next
// begins. Views never take the lock.
type Env struct {
	self  string
	clock Clock
	mu    sync.Mutex
}

// NewEnv builds an environment. A nil clock defaults to the system clock.
func NewEnv(self string, clock Clock) *Env {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Env{self: self, clock: clock}
}

// Self returns the engine's own address, the custodian of pulled funds.
func (e *Env) Self() string { return e.self }

// Now returns the current time.
func (e *Env) Now() time.Time { return e.clock.Now() }

// Unix returns the current time in unix seconds.
func (e *Env) Unix() int64 { return e.clock.Now().Unix() }

// Day returns the current day number (floor of unix seconds / 86400).
func (e *Env) Day() uint64 { return uint64(e.Unix() / remit.SecondsPerDay) }

// Lock serialises a mutating operation.
func (e *Env) Lock() { e.mu.Lock() }

// Unlock releases the operation lock.
func (e *Env) Unlock() { e.mu.Unlock() }
