// Package bizhours converts working-time budgets into wall-clock deadlines
// using a per-workspace weekly schedule and IANA timezone.
package bizhours

import "time"

// DefaultTimezone is used when a workspace's timezone string cannot be loaded.
const DefaultTimezone = "Europe/Bucharest"

const (
	// probeDays bounds the search for the next enabled window.
	probeDays = 14
	// maxIterations bounds the consume loop against pathological schedules.
	maxIterations = 10000
)

// DayWindow is one weekday's working window, in minutes from local midnight.
// A window with EndMinute <= StartMinute is treated as disabled.
type DayWindow struct {
	Enabled     bool
	StartMinute int
	EndMinute   int
}

// Week holds one DayWindow per weekday, indexed by time.Weekday.
type Week [7]DayWindow

// Config is the resolved business-hours configuration for one workspace.
type Config struct {
	Enabled  bool
	Timezone string
	Week     Week
}

// LoadLocation resolves an IANA timezone name, falling back to DefaultTimezone
// and finally UTC for invalid input.
func LoadLocation(name string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// ComputeDueAt walks forward from startAt consuming targetMinutes of working
// time and returns the resulting deadline.
//
// With business hours disabled the deadline is plain wall-clock arithmetic.
// Otherwise minutes are consumed only inside each enabled day's
// [StartMinute, EndMinute) window, evaluated in the configured timezone. If no
// enabled window exists within the next 14 days the clock degrades to
// cursor + 24h rather than failing.
func ComputeDueAt(startAt time.Time, targetMinutes int, cfg Config) time.Time {
	if targetMinutes <= 0 {
		return startAt
	}
	if !cfg.Enabled {
		return startAt.Add(time.Duration(targetMinutes) * time.Minute)
	}

	loc := LoadLocation(cfg.Timezone)
	cursor := startAt
	remaining := time.Duration(targetMinutes) * time.Minute

	for iter := 0; iter < maxIterations; iter++ {
		local := cursor.In(loc)
		year, month, day := local.Date()
		window := cfg.Week[int(local.Weekday())]

		if !windowUsable(window) {
			next, ok := nextOpenDayStart(cursor, loc, cfg.Week)
			if !ok {
				return cursor.Add(24 * time.Hour)
			}
			cursor = next
			continue
		}

		windowStart := localInstant(year, month, day, window.StartMinute, loc)
		windowEnd := localInstant(year, month, day, window.EndMinute, loc)

		if cursor.Before(windowStart) {
			cursor = windowStart
			continue
		}
		if !cursor.Before(windowEnd) {
			next, ok := nextOpenDayStart(cursor, loc, cfg.Week)
			if !ok {
				return cursor.Add(24 * time.Hour)
			}
			cursor = next
			continue
		}

		available := windowEnd.Sub(cursor)
		if remaining <= available {
			return cursor.Add(remaining)
		}
		remaining -= available
		cursor = windowEnd
	}

	// Iteration cap hit: degrade instead of spinning.
	return cursor.Add(24 * time.Hour)
}

func windowUsable(w DayWindow) bool {
	return w.Enabled && w.EndMinute > w.StartMinute
}

// nextOpenDayStart returns the start instant of the next enabled window within
// probeDays calendar days after cursor's local day.
func nextOpenDayStart(cursor time.Time, loc *time.Location, week Week) (time.Time, bool) {
	local := cursor.In(loc)
	year, month, day := local.Date()

	for offset := 1; offset <= probeDays; offset++ {
		probe := localInstant(year, month, day+offset, 0, loc)
		probeLocal := probe.In(loc)
		window := week[int(probeLocal.Weekday())]
		if !windowUsable(window) {
			continue
		}
		py, pm, pd := probeLocal.Date()
		return localInstant(py, pm, pd, window.StartMinute, loc), true
	}
	return time.Time{}, false
}

// localInstant converts a desired local wall clock to an instant. time.Date
// normalizes by offset guessing; a correction pass shifts the result back to
// the requested wall clock, and when no such wall clock exists on that day
// (a spring-forward gap) the result snaps to the gap's end.
func localInstant(year int, month time.Month, day, minuteOfDay int, loc *time.Location) time.Time {
	wantHour := minuteOfDay / 60
	wantMinute := minuteOfDay % 60

	guess := time.Date(year, month, day, wantHour, wantMinute, 0, 0, loc)
	if matchesWall(guess, loc, wantHour, wantMinute) {
		return guess
	}

	back := guess.In(loc)
	diff := time.Duration((wantHour-back.Hour())*60+(wantMinute-back.Minute())) * time.Minute
	shifted := guess.Add(diff)
	if matchesWall(shifted, loc, wantHour, wantMinute) {
		return shifted
	}

	// The wall clock is skipped by a DST transition. guess and shifted sit on
	// opposite sides of it; the transition instant is the first valid moment.
	lo, hi := shifted, guess
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	_, loOffset := lo.In(loc).Zone()
	for hi.Sub(lo) > time.Minute {
		mid := lo.Add(hi.Sub(lo) / 2).Round(time.Minute)
		if _, off := mid.In(loc).Zone(); off == loOffset {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

func matchesWall(t time.Time, loc *time.Location, hour, minute int) bool {
	local := t.In(loc)
	return local.Hour() == hour && local.Minute() == minute
}
