// Package quota tracks the remote's hourly request allowance.
package quota

import (
	"context"
	"sync"
	"time"
)

// Status is a point-in-time view of the allowance.
type Status struct {
	Ceiling   int       `json:"ceiling"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Tracker counts billable remote operations within a fixed window.
// Remaining always stays within [0, ceiling].
type Tracker struct {
	mu        sync.Mutex
	ceiling   int
	remaining int
	window    time.Duration
	resetAt   time.Time
	timer     *time.Timer
	now       func() time.Time
}

// New creates a tracker with a full allowance. The window does not roll
// over until Start is called.
func New(ceiling int, window time.Duration) *Tracker {
	t := &Tracker{
		ceiling:   ceiling,
		remaining: ceiling,
		window:    window,
		now:       time.Now,
	}
	t.resetAt = t.now().Add(window)
	return t
}

// Start schedules the first reset. The schedule stops when ctx ends or Stop
// is called.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.resetAt = t.now().Add(t.window)
	t.scheduleLocked()
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
}

// Stop cancels any pending reset.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) scheduleLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, t.ResetWindow)
}

// Remaining returns the units left in the current window.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Ceiling returns the allowance per window.
func (t *Tracker) Ceiling() int {
	return t.ceiling
}

// TryAcquire takes one unit if any is left. It never drives the count
// below zero.
func (t *Tracker) TryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining <= 0 {
		return false
	}
	t.remaining--
	return true
}

// Consume takes n units, clamping at zero.
func (t *Tracker) Consume(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = max(0, t.remaining-n)
}

// Refund returns n units, clamping at the ceiling.
func (t *Tracker) Refund(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = min(t.ceiling, t.remaining+n)
}

// ResetWindow restores the full allowance and starts a new window.
func (t *Tracker) ResetWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = t.ceiling
	t.resetAt = t.now().Add(t.window)
	if t.timer != nil {
		t.scheduleLocked()
	}
}

// Status snapshots the tracker.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{Ceiling: t.ceiling, Remaining: t.remaining, ResetAt: t.resetAt}
}
