package bizhours

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// storedDay is the persisted JSON shape for one weekday.
type storedDay struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// storedSchedule is the persisted JSON shape for a workspace schedule.
type storedSchedule struct {
	Enabled  bool                 `json:"enabled"`
	Timezone string               `json:"timezone"`
	Days     map[string]storedDay `json:"days"`
}

var weekdayKeys = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// DefaultWeek is Monday-Friday 09:00-17:00.
func DefaultWeek() Week {
	var week Week
	for wd := time.Monday; wd <= time.Friday; wd++ {
		week[int(wd)] = DayWindow{Enabled: true, StartMinute: 9 * 60, EndMinute: 17 * 60}
	}
	return week
}

// DefaultConfig returns an enabled default-week config for the given timezone.
func DefaultConfig(timezone string) Config {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return Config{Enabled: true, Timezone: timezone, Week: DefaultWeek()}
}

// ParseConfig decodes a stored schedule blob, defaulting every malformed or
// missing field rather than rejecting the document. fallbackTimezone applies
// when the blob carries no usable timezone of its own.
func ParseConfig(raw []byte, fallbackTimezone string) Config {
	cfg := DefaultConfig(fallbackTimezone)
	if len(raw) == 0 {
		return cfg
	}

	var stored storedSchedule
	if err := json.Unmarshal(raw, &stored); err != nil {
		return cfg
	}

	cfg.Enabled = stored.Enabled
	if tz := strings.TrimSpace(stored.Timezone); tz != "" {
		cfg.Timezone = tz
	}

	if len(stored.Days) == 0 {
		return cfg
	}

	var week Week
	for key, day := range stored.Days {
		wd, ok := weekdayKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		week[int(wd)] = DayWindow{
			Enabled:     day.Enabled,
			StartMinute: parseMinuteOfDay(day.Start, 9*60),
			EndMinute:   parseMinuteOfDay(day.End, 17*60),
		}
	}
	cfg.Week = week
	return cfg
}

// parseMinuteOfDay parses "HH:MM" into minutes from midnight.
func parseMinuteOfDay(value string, fallback int) int {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return fallback
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return fallback
	}
	return hour*60 + minute
}
