package security

import (
	"time"

	"asset-recyclebin/internal/model"
)

const (
	DefaultRateLimitWindow = 10 * time.Minute
	DefaultRateLimitMax    = 5
)

// SlidingWindow caps how many permanent-delete attempts a principal may make
// within Window. The attempt being evaluated counts toward the cap.
type SlidingWindow struct {
	Window time.Duration
	Max    int
}

func NewSlidingWindow(window time.Duration, max int) SlidingWindow {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return SlidingWindow{Window: window, Max: max}
}

// Since returns the start of the window ending at now.
func (w SlidingWindow) Since(now time.Time) time.Time {
	return now.Add(-w.Window)
}

// Evaluate checks the attempt at now against the previous attempts.
func (w SlidingWindow) Evaluate(principalID string, now time.Time, previous []time.Time) model.RateLimitStatus {
	since := w.Since(now)
	count := 1
	oldest := now
	for _, at := range previous {
		if !at.After(since) || at.After(now) {
			continue
		}
		count++
		if at.Before(oldest) {
			oldest = at
		}
	}

	status := model.RateLimitStatus{
		PrincipalID:   principalID,
		Attempts:      count,
		Max:           w.Max,
		WindowMinutes: int(w.Window / time.Minute),
		Limited:       count >= w.Max,
	}
	if status.Limited {
		status.MinutesUntilReset = max(1, minutesUntil(now, oldest.Add(w.Window)))
	}
	return status
}
