package los

import (
	"fmt"
	"sync"
	"time"
)

// Counter tallies loss-of-signal transitions on one line. The gpiod
// handler only carries the line offset, so one counter serves one line.
type Counter struct {
	Chip   string
	Offset int

	mu      sync.Mutex
	rising  int
	falling int
	last    time.Duration
}

// Result is a watch window summary. LOS is asserted high.
type Result struct {
	Rising  int
	Falling int
	Level   int
	Window  time.Duration
	// timestamp of the last edge relative to the kernel clock
	LastEdge time.Duration
}

func (r *Result) Transitions() int {
	return r.Rising + r.Falling
}

func (r *Result) String() string {
	state := "signal"
	if r.Level == 1 {
		state = "LOS"
	}
	return fmt.Sprintf("%s, %d losses and %d recoveries in %v", state, r.Rising, r.Falling, r.Window)
}

func (c *Counter) edge(rising bool, ts time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rising {
		c.rising++
	} else {
		c.falling++
	}
	c.last = ts
}

func (c *Counter) result(level int, window time.Duration) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Result{
		Rising:   c.rising,
		Falling:  c.falling,
		Level:    level,
		Window:   window,
		LastEdge: c.last,
	}
}
