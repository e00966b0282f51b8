package timewindow

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/crmkit/broadcast-service/internal/domain"
)

// ErrNoUpcomingWindow means the window is enabled but no weekday in the next
// 7 days carries a range, so a schedule can never start. Surfaced to the
// operator at activation time as a configuration error.
var ErrNoUpcomingWindow = errors.New("no sending window configured in the next 7 days")

// Estimate is a deterministic projection of how long a broadcast would take.
// It uses the average delay per message and is meant for operator feedback
// and capacity planning only; the dispatch schedule is materialized
// separately with randomized delays.
type Estimate struct {
	TotalMessages    int           `json:"totalMessages"`
	Duration         time.Duration `json:"duration"`
	EndTime          time.Time     `json:"endTime"`
	ExceedsWindow    bool          `json:"exceedsWindow"`
	CountInWindow    int           `json:"countInWindow"`
	CountOutOfWindow int           `json:"countOutOfWindow"`
}

// CanStartResult is the answer to "can this campaign start sending now?".
type CanStartResult struct {
	CanStart          bool       `json:"canStart"`
	Reason            string     `json:"reason,omitempty"`
	NextAvailableTime *time.Time `json:"nextAvailableTime,omitempty"`
}

type Estimator struct {
	evaluator *Evaluator
}

func NewEstimator(evaluator *Evaluator) *Estimator {
	return &Estimator{evaluator: evaluator}
}

// Estimate walks a simulated clock from start. In-window messages advance
// the clock by the average delay; out-of-window ones first jump the clock to
// the next allowed instant. If no next instant exists the walk stops early,
// which is the one case where fewer than total messages get projected.
func (e *Estimator) Estimate(
	total int,
	minDelay, maxDelay time.Duration,
	w *domain.TimeWindow,
	start time.Time,
) Estimate {
	avg := averageDelay(minDelay, maxDelay)

	result := Estimate{TotalMessages: total}

	if w == nil || !w.Enabled {
		result.Duration = time.Duration(total) * avg
		result.EndTime = start.Add(result.Duration)
		result.CountInWindow = total
		return result
	}

	clock := start
	for i := 0; i < total; i++ {
		if e.evaluator.IsAllowed(w, clock) {
			clock = clock.Add(avg)
			result.CountInWindow++
			continue
		}

		next, ok := e.evaluator.NextAllowedInstant(w, clock)
		if !ok {
			break
		}

		clock = next.Add(avg)
		result.CountOutOfWindow++
		result.ExceedsWindow = true
	}

	result.Duration = clock.Sub(start)
	result.EndTime = clock
	return result
}

// CanStartNow reports whether the window allows sending at the given instant
// and, if not, when it next will. A window with no upcoming range at all
// yields a distinct reason instead of a timestamp.
func (e *Estimator) CanStartNow(w *domain.TimeWindow, now time.Time) CanStartResult {
	if e.evaluator.IsAllowed(w, now) {
		return CanStartResult{CanStart: true}
	}

	next, ok := e.evaluator.NextAllowedInstant(w, now)
	if !ok {
		return CanStartResult{
			CanStart: false,
			Reason:   "no sending window configured for the foreseeable future",
		}
	}

	return CanStartResult{
		CanStart:          false,
		Reason:            "outside the allowed sending window",
		NextAvailableTime: &next,
	}
}

// BuildSchedule materializes per-recipient dispatch instants starting at
// start, honoring the window and randomizing each gap in [minDelay,
// maxDelay]. Unlike Estimate this is the real schedule; it fails with
// ErrNoUpcomingWindow instead of truncating.
func (e *Estimator) BuildSchedule(
	total int,
	minDelay, maxDelay time.Duration,
	w *domain.TimeWindow,
	start time.Time,
) ([]time.Time, error) {
	if w != nil && w.Enabled && !w.HasAnyRange() {
		return nil, ErrNoUpcomingWindow
	}

	schedule := make([]time.Time, 0, total)
	clock := start

	for i := 0; i < total; i++ {
		if !e.evaluator.IsAllowed(w, clock) {
			next, ok := e.evaluator.NextAllowedInstant(w, clock)
			if !ok {
				return nil, ErrNoUpcomingWindow
			}
			clock = next
		}

		clock = clock.Add(randomDelay(minDelay, maxDelay))
		schedule = append(schedule, clock)
	}

	return schedule, nil
}

func averageDelay(minDelay, maxDelay time.Duration) time.Duration {
	return (minDelay + maxDelay) / 2
}

func randomDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int64N(int64(maxDelay-minDelay)+1))
}
