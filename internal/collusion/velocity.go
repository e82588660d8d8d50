package collusion

import (
	"sync"
	"time"
)

const (
	DefaultVelocityLimit  = 3
	DefaultVelocityWindow = 24 * time.Hour
)

// VelocityResult reports the state of an approver pair's window after a check.
type VelocityResult struct {
	Allowed bool
	Count   int
	Limit   int
	RetryAt time.Time
}

// VelocityLimiter caps how often the same two approvers may co-sign within a
// sliding window. The pair is unordered.
type VelocityLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string][]time.Time
}

func NewVelocityLimiter(limit int, window time.Duration) *VelocityLimiter {
	if limit <= 0 {
		limit = DefaultVelocityLimit
	}
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	return &VelocityLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]time.Time),
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Allow records an approval for the pair at now if the window has room.
func (l *VelocityLimiter) Allow(a, b string, now time.Time) VelocityResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey(a, b)
	stamps := prune(l.windows[key], now.Add(-l.window))

	if len(stamps) >= l.limit {
		l.windows[key] = stamps
		return VelocityResult{
			Allowed: false,
			Count:   len(stamps),
			Limit:   l.limit,
			RetryAt: stamps[0].Add(l.window),
		}
	}
	stamps = append(stamps, now)
	l.windows[key] = stamps
	return VelocityResult{Allowed: true, Count: len(stamps), Limit: l.limit}
}

// Count returns the approvals the pair has in the window ending at now.
func (l *VelocityLimiter) Count(a, b string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey(a, b)
	stamps := prune(l.windows[key], now.Add(-l.window))
	if len(stamps) == 0 {
		delete(l.windows, key)
	} else {
		l.windows[key] = stamps
	}
	return len(stamps)
}

// prune drops timestamps at or before cutoff. stamps are in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
