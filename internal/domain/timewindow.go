package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MinutesPerDay is the resolution of a time window: minute-of-day 0..1439.
const MinutesPerDay = 24 * 60

// DayRange is an allowed sending range for one weekday, in minutes since
// midnight, both bounds inclusive. End < Start means the range wraps past
// midnight into the next day (22:00-02:00 style).
type DayRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r DayRange) Wraps() bool {
	return r.End < r.Start
}

// WeekSchedule maps weekdays (time.Weekday order, Sunday=0) to their optional
// range. A nil entry means sending is not allowed on that day at all.
type WeekSchedule [7]*DayRange

// TimeWindow is an operator-owned weekly availability rule. The scheduler
// only ever reads it.
type TimeWindow struct {
	ID        int64        `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Enabled   bool         `db:"enabled" json:"enabled"`
	Days      WeekSchedule `db:"days" json:"days"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

// Range returns the configured range for the given weekday, or nil.
func (w *TimeWindow) Range(day time.Weekday) *DayRange {
	return w.Days[int(day)]
}

// HasAnyRange reports whether at least one weekday is configured.
func (w *TimeWindow) HasAnyRange() bool {
	for _, r := range w.Days {
		if r != nil {
			return true
		}
	}
	return false
}

func (w *TimeWindow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("time window name is required")
	}
	for day, r := range w.Days {
		if r == nil {
			continue
		}
		if r.Start < 0 || r.Start >= MinutesPerDay || r.End < 0 || r.End >= MinutesPerDay {
			return fmt.Errorf("time window range for weekday %d is out of bounds", day)
		}
	}
	return nil
}

func (s WeekSchedule) Value() (interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal week schedule: %w", err)
	}
	return string(data), nil
}

func (s *WeekSchedule) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = WeekSchedule{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported days column type %T", src)
	}

	if len(data) == 0 {
		*s = WeekSchedule{}
		return nil
	}

	return json.Unmarshal(data, s)
}

// MinuteOfDay extracts the minute-resolution time of day used by the
// evaluator. Seconds are truncated, matching the window's resolution.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock parses a "HH:MM" clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return hh*60 + mm, nil
}

// FormatClock renders minutes since midnight back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
