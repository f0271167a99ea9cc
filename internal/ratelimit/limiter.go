// Package ratelimit enforces minimum spacing between outbound sends and
// absorbs provider-imposed backoff windows.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks the last send time and the current provider backoff window.
// It never sleeps itself; Reserve returns the duration the caller must wait,
// so the wait happens at a point where cancellation is possible. All state
// transitions go through the Notify methods under a single mutex, making a
// NotifyBackoff immediately visible to every subsequent Reserve.
type Limiter struct {
	mu           sync.Mutex
	minInterval  time.Duration
	lastSend     time.Time
	backoffUntil time.Time
	now          func() time.Time
}

// New creates a limiter with the given minimum interval between sends.
func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Reserve returns how long the caller must wait before it may send:
// the remainder of the minimum interval since the last send, or of an active
// provider backoff window, whichever is longer. Never negative.
func (l *Limiter) Reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration

	if !l.lastSend.IsZero() {
		if d := l.lastSend.Add(l.minInterval).Sub(now); d > wait {
			wait = d
		}
	}
	if d := l.backoffUntil.Sub(now); d > wait {
		wait = d
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// NotifySent stamps the last send time.
func (l *Limiter) NotifySent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSend = l.now()
}

// NotifyBackoff extends the backoff window to now+d. An active window is
// never shortened: the later deadline wins.
func (l *Limiter) NotifyBackoff(d time.Duration) {
	if d < 0 {
		d = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(d)
	if until.After(l.backoffUntil) {
		l.backoffUntil = until
	}
}

// BackoffUntil returns the current backoff deadline, zero when no window is
// active. Exposed for status snapshots.
func (l *Limiter) BackoffUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffUntil
}
