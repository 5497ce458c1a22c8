package timeseries

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime resolves "now", an ISO-8601 timestamp, or a relative offset such as
// "30m", "24h", "7d" or "2w" (subtracted from now).
func ParseTime(s string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "now" {
		return now, nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}

	lower := strings.ToLower(raw)
	if len(lower) >= 2 {
		n, err := strconv.Atoi(lower[:len(lower)-1])
		if err == nil && n >= 0 {
			var unit time.Duration
			switch lower[len(lower)-1] {
			case 'm':
				unit = time.Minute
			case 'h':
				unit = time.Hour
			case 'd':
				unit = 24 * time.Hour
			case 'w':
				unit = 7 * 24 * time.Hour
			}
			if unit != 0 {
				return now.Add(-time.Duration(n) * unit), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse time: %s", s)
}

// ParseWindow resolves a start/end pair against now.
func ParseWindow(start, end string, now time.Time) (time.Time, time.Time, error) {
	if start == "" {
		start = "7d"
	}
	if end == "" {
		end = "now"
	}
	s, err := ParseTime(start, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := ParseTime(end, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

// ParseInterval resolves either an ISO interval "start/end" or a relative
// range ending now.
func ParseInterval(s string, now time.Time) (time.Time, time.Time, error) {
	if before, after, ok := strings.Cut(s, "/"); ok && strings.Contains(s, "T") {
		return ParseWindow(before, after, now)
	}
	return ParseWindow(s, "now", now)
}
