package ratelimit

import (
	"time"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// window is a fixed-bucket request counter. A daily window is aligned to the
// UTC calendar day; other windows start at the first request after the
// previous one elapsed.
type window struct {
	limit  int
	length time.Duration
	daily  bool
	count  int
	start  time.Time
}

func newWindow(limit int, length time.Duration) window {
	return window{limit: limit, length: length}
}

func newDailyWindow(limit int) window {
	return window{limit: limit, length: 24 * time.Hour, daily: true}
}

func (w *window) roll(now time.Time) {
	if w.daily {
		day := utils.DayStartUTC(now)
		if !day.Equal(w.start) {
			w.start = day
			w.count = 0
		}
		return
	}
	if w.start.IsZero() || !now.Before(w.start.Add(w.length)) {
		w.start = now
		w.count = 0
	}
}

// allows reports whether one more request fits. -1 means unlimited.
func (w *window) allows(now time.Time) bool {
	w.roll(now)
	return w.limit < 0 || w.count < w.limit
}

func (w *window) add() {
	w.count++
}

// expired reports whether the window holds no live counts at now.
func (w *window) expired(now time.Time) bool {
	if w.start.IsZero() {
		return true
	}
	if w.daily {
		return !utils.DayStartUTC(now).Equal(w.start)
	}
	return !now.Before(w.start.Add(w.length))
}
