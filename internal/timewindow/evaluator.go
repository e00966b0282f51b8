package timewindow

import (
	"time"

	"github.com/crmkit/broadcast-service/internal/cache"
	"github.com/crmkit/broadcast-service/internal/domain"
)

// Evaluator answers "may we send at instant T?" for a weekly time window.
// The optional cache memoizes verdicts per (window, minute); passing nil
// disables caching without changing behaviour.
type Evaluator struct {
	cache *cache.WindowCache
}

func NewEvaluator(windowCache *cache.WindowCache) *Evaluator {
	return &Evaluator{cache: windowCache}
}

// IsAllowed reports whether the window permits sending at the given instant.
// An absent or disabled window permits everything.
func (e *Evaluator) IsAllowed(w *domain.TimeWindow, at time.Time) bool {
	if w == nil || !w.Enabled {
		return true
	}

	if e.cache != nil {
		if allowed, ok := e.cache.Get(w.ID, at); ok {
			return allowed
		}
	}

	allowed := allowedAt(w, at)

	if e.cache != nil {
		e.cache.Set(w.ID, at, allowed)
	}

	return allowed
}

// allowedAt checks the instant's own weekday range plus the previous day's
// range when that one wraps past midnight: Friday 22:00-02:00 covers
// Saturday 00:00-02:00 as well. Bounds are inclusive at minute resolution.
func allowedAt(w *domain.TimeWindow, at time.Time) bool {
	tod := domain.MinuteOfDay(at)

	if r := w.Range(at.Weekday()); r != nil {
		if r.Wraps() {
			if tod >= r.Start {
				return true
			}
		} else if tod >= r.Start && tod <= r.End {
			return true
		}
	}

	prev := (at.Weekday() + 6) % 7
	if r := w.Range(prev); r != nil && r.Wraps() && tod <= r.End {
		return true
	}

	return false
}

// NextAllowedInstant scans forward day by day for the first configured range
// whose start instant is strictly after from. Same-day starts already passed
// are skipped. The scan covers the next full week; if no weekday carries a
// range the second value is false and the schedule is indefinitely blocked.
// Callers must treat that as a hard stop, never as "try again later".
func (e *Evaluator) NextAllowedInstant(w *domain.TimeWindow, from time.Time) (time.Time, bool) {
	if w == nil || !w.Enabled {
		return time.Time{}, false
	}

	for offset := 0; offset <= 7; offset++ {
		day := from.AddDate(0, 0, offset)
		r := w.Range(day.Weekday())
		if r == nil {
			continue
		}

		candidate := time.Date(day.Year(), day.Month(), day.Day(), r.Start/60, r.Start%60, 0, 0, from.Location())
		if candidate.After(from) {
			return candidate, true
		}
	}

	return time.Time{}, false
}
