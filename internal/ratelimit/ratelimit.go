package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the KIS gateway limit of calls per window.
	DefaultMaxRequests = 19
	// DefaultWindow is the sliding window size.
	DefaultWindow = time.Second
)

// Limiter caps outbound calls to a maximum count per sliding window.
// One instance is constructed at startup and shared by every component
// that issues HTTP calls; there is no package-level singleton.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time

	// now and sleep are replaceable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Limiter allowing max admissions per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// NewDefault creates a Limiter with the KIS gateway defaults.
func NewDefault() *Limiter {
	return New(DefaultMaxRequests, DefaultWindow)
}

// Admit blocks until the call may proceed without exceeding the limit,
// then records the admission timestamp. Safe for concurrent use.
func (l *Limiter) Admit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.stamps) >= l.max {
		wait := l.window - now.Sub(l.stamps[0])
		if wait > 0 {
			l.sleep(wait)
			now = l.now()
			l.evict(now)
		}
	}
	l.stamps = append(l.stamps, now)
}

// evict drops admissions older than now minus the window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && l.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Reconfigure atomically replaces the limits and clears recorded history.
func (l *Limiter) Reconfigure(max int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.max = max
	l.window = window
	l.stamps = l.stamps[:0]
}
