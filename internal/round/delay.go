package round

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// delayTimer is the cancelable single-shot hold applied in the game-ended
// state. Starting it cancels and replaces any live timer, so at most one
// exists per machine instance. With no delay configured it reports
// expired immediately.
type delayTimer struct {
	clock    quartz.Clock
	onExpire func()

	mu      sync.Mutex
	timer   *quartz.Timer
	expired bool
}

func newDelayTimer(clock quartz.Clock, onExpire func()) *delayTimer {
	return &delayTimer{clock: clock, onExpire: onExpire, expired: true}
}

// Start arms the delay, replacing any live timer. A non-positive duration
// leaves the delay expired.
func (d *delayTimer) Start(duration time.Duration) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if duration <= 0 {
		d.expired = true
		d.mu.Unlock()
		return
	}
	d.expired = false
	var t *quartz.Timer
	t = d.clock.AfterFunc(duration, func() {
		d.mu.Lock()
		if d.timer != t {
			// Replaced or force-ended after this fired.
			d.mu.Unlock()
			return
		}
		d.expired = true
		d.timer = nil
		d.mu.Unlock()
		d.onExpire()
	})
	d.timer = t
	d.mu.Unlock()
}

// ForceEnd cancels any live timer and applies the expiry synchronously.
// Used when an operator override skips the hold.
func (d *delayTimer) ForceEnd() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	already := d.expired
	d.expired = true
	d.mu.Unlock()
	if !already {
		d.onExpire()
	}
}

// Expired reports whether the hold has elapsed (or was never armed).
func (d *delayTimer) Expired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}
