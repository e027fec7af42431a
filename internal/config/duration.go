package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// calendarUnits extends time.ParseDuration with the units that make sense for
// scheduling horizons. A day is always 24h here; DST is not considered.
var calendarUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDurationField reads a non-negative duration setting at path. Empty is
// zero. Besides Go duration syntax it accepts a leading whole number of days
// or weeks, as in "30d", "2w" or "1d12h".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseCalendarDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	switch {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	}
	return d, nil
}

func parseCalendarDuration(s string) (time.Duration, error) {
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimLeft(s, "+-")

	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	unit, ok := time.Duration(0), false
	if i > 0 && i < len(body) {
		unit, ok = calendarUnits[body[i]]
	}
	if !ok {
		return time.ParseDuration(s)
	}

	n, err := strconv.ParseInt(body[:i], 10, 64)
	if err != nil || n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("%s out of range", body[:i+1])
	}
	d := time.Duration(n) * unit
	if rest := body[i+1:]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		if extra < 0 {
			return 0, fmt.Errorf("sign inside %q", s)
		}
		d += extra
	}
	if neg {
		d = -d
	}
	return d, nil
}
