package tracker

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single call of fn after
// a quiet delay. A new trigger while one is pending resets the timer.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu         sync.Mutex
	pending    bool
	generation int
}

// NewDebouncer creates a debouncer with the specified delay.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger requests a call of fn, resetting the timer if one is already
// pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	gen := d.generation
	d.pending = true
	time.AfterFunc(d.delay, func() {
		d.fire(gen)
	})
}

func (d *Debouncer) fire(generation int) {
	d.mu.Lock()
	if !d.pending || d.generation != generation {
		// Stale timer; a later trigger owns the flush.
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Flush runs fn immediately if a call is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.generation++
	d.mu.Unlock()

	d.fn()
}
