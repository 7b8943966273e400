// Package quota decides whether a publish attempt is currently permitted on
// a platform. State is an explicit value passed in with the query time, so
// callers can inject any clock and planning stays deterministic.
package quota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a preferred time-of-day range in minutes since midnight UTC,
// Start inclusive, End exclusive.
type Window struct {
	Start int
	End   int
}

// Contains reports whether the minute-of-day m falls inside the window
func (w Window) Contains(m int) bool {
	return m >= w.Start && m < w.End
}

// State is the rolling quota state for one platform. The posting window
// rolls over on UTC day boundaries; rollover is computed lazily on each
// query, never by a background timer.
type State struct {
	Platform      string
	WindowStart   time.Time // UTC midnight of the current quota day
	PostsInWindow int
	MaxPerWindow  int // <= 0 means unlimited

	// Preferred posting windows, ordered by start time. Empty means any
	// time of day is eligible.
	Preferred []Window

	// MinInterval is the minimum spacing between consecutive posts on
	// this platform. Zero disables the check.
	MinInterval time.Duration
	LastPostAt  time.Time
}

// Rollover advances the window to the UTC day containing at, resetting the
// post counter when a boundary has been crossed.
func Rollover(s State, at time.Time) State {
	day := at.UTC().Truncate(24 * time.Hour)
	if s.WindowStart.IsZero() || day.After(s.WindowStart) {
		s.WindowStart = day
		s.PostsInWindow = 0
	}
	return s
}

// CanPublish reports whether a publish attempt is permitted at the given time
func CanPublish(s State, at time.Time) bool {
	s = Rollover(s, at)
	if s.MaxPerWindow > 0 && s.PostsInWindow >= s.MaxPerWindow {
		return false
	}
	if s.MinInterval > 0 && !s.LastPostAt.IsZero() && at.Before(s.LastPostAt.Add(s.MinInterval)) {
		return false
	}
	return inPreferred(s.Preferred, at)
}

// NextEligibleTime returns the earliest time >= after that is inside a
// preferred window of a day with remaining quota and respects MinInterval.
// When quota is exhausted for every remaining window of the current day, the
// result lands in the first preferred window of the next day.
func NextEligibleTime(s State, after time.Time) time.Time {
	t := after.UTC()
	if s.MinInterval > 0 && !s.LastPostAt.IsZero() {
		if floor := s.LastPostAt.Add(s.MinInterval); t.Before(floor) {
			t = floor
		}
	}

	s = Rollover(s, t)
	// Walk forward at most a year of days; a platform with quota configured
	// always yields within the first couple of days.
	for i := 0; i < 366; i++ {
		day := t.Truncate(24 * time.Hour)
		quotaOK := s.MaxPerWindow <= 0 || s.PostsInWindow < s.MaxPerWindow || day.After(s.WindowStart)
		if quotaOK {
			if at, ok := earliestInDay(s.Preferred, day, t); ok {
				return at
			}
		}
		t = day.Add(24 * time.Hour)
	}
	return t
}

// Consume returns the state after recording one post at the given time
func Consume(s State, at time.Time) State {
	s = Rollover(s, at)
	s.PostsInWindow++
	s.LastPostAt = at.UTC()
	return s
}

func inPreferred(windows []Window, at time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	m := at.UTC().Hour()*60 + at.UTC().Minute()
	for _, w := range windows {
		if w.Contains(m) {
			return true
		}
	}
	return false
}

// earliestInDay returns the earliest instant >= floor inside any preferred
// window on the given UTC day.
func earliestInDay(windows []Window, day, floor time.Time) (time.Time, bool) {
	if len(windows) == 0 {
		if floor.Before(day.Add(24 * time.Hour)) {
			if floor.Before(day) {
				return day, true
			}
			return floor, true
		}
		return time.Time{}, false
	}
	for _, w := range windows {
		start := day.Add(time.Duration(w.Start) * time.Minute)
		end := day.Add(time.Duration(w.End) * time.Minute)
		if !floor.Before(end) {
			continue
		}
		if floor.After(start) {
			return floor, true
		}
		return start, true
	}
	return time.Time{}, false
}

// ParseWindows parses a window spec like "09:00-11:00,17:00-19:30" into
// ordered preferred windows. An empty spec yields no windows (any time
// eligible).
func ParseWindows(spec string) ([]Window, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []Window
	for _, part := range strings.Split(spec, ",") {
		bounds := strings.SplitN(strings.TrimSpace(part), "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("window %q: expected HH:MM-HH:MM", part)
		}
		start, err := parseMinutes(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		end, err := parseMinutes(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		if end <= start {
			return nil, fmt.Errorf("window %q: end not after start", part)
		}
		out = append(out, Window{Start: start, End: end})
	}
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			return nil, fmt.Errorf("windows must be ordered and non-overlapping")
		}
	}
	return out, nil
}

func parseMinutes(s string) (int, error) {
	fields := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(fields) != 2 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(fields[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	m, err := strconv.Atoi(fields[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	return h*60 + m, nil
}
