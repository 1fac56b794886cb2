package client

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a user may be idle before being marked
// INACTIVE.
const DefaultIdleTimeout = 30 * time.Second

// StatusToggler flips the user's status on the server. *Session implements it.
type StatusToggler interface {
	ToggleStatus()
}

// ActivityTracker marks the user INACTIVE after a period without input and
// ACTIVE again on the next input. It only ever calls ToggleStatus.
type ActivityTracker struct {
	mu      sync.Mutex
	target  StatusToggler
	timeout time.Duration
	timer   *time.Timer
	gen     uint64 // bumped on every arm; stale timers are ignored
	active  bool
	stopped bool
}

// NewActivityTracker creates a tracker for target. A non-positive timeout
// uses DefaultIdleTimeout. Call Start to arm it.
func NewActivityTracker(target StatusToggler, timeout time.Duration) *ActivityTracker {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &ActivityTracker{target: target, timeout: timeout, active: true}
}

// Start (re)arms the idle timer.
func (a *ActivityTracker) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = false
	a.arm()
}

// Touch records user activity.
func (a *ActivityTracker) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if !a.active {
		a.active = true
		a.target.ToggleStatus()
	}
	a.arm()
}

// Active reports whether the user is currently considered active.
func (a *ActivityTracker) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Stop disarms the timer. No toggles happen after Stop returns.
func (a *ActivityTracker) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *ActivityTracker) arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.timeout, func() { a.expire(gen) })
}

func (a *ActivityTracker) expire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || gen != a.gen || !a.active {
		return
	}
	a.active = false
	a.target.ToggleStatus()
}
