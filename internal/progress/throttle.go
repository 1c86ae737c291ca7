package progress

import (
	"sync"
	"time"
)

// Throttled forwards to r at most once per interval, plus every value that
// advanced by at least step since the last forward and the final 1.
func Throttled(r Reporter, interval time.Duration, step float64) Reporter {
	return &throttled{next: r, interval: interval, step: step, now: time.Now}
}

type throttled struct {
	mu       sync.Mutex
	next     Reporter
	interval time.Duration
	step     float64
	last     float64
	lastAt   time.Time
	sent     bool
	now      func() time.Time
}

func (t *throttled) ReportProgress(p float64) {
	t.mu.Lock()
	now := t.now()
	forward := !t.sent ||
		p >= 1 ||
		(t.step > 0 && p-t.last >= t.step) ||
		now.Sub(t.lastAt) >= t.interval
	if forward {
		t.sent = true
		t.last = p
		t.lastAt = now
	}
	t.mu.Unlock()

	if forward {
		t.next.ReportProgress(p)
	}
}
