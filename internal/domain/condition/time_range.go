package condition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// TimeWindow matches the time-of-day of the request in a reference timezone.
// The window includes its start minute and excludes its end minute.
// A start later than the end wraps past midnight ("22:00-06:00").
type TimeWindow struct {
	start int
	end   int
	loc   *time.Location
}

// ParseTimeWindow parses an "HH:MM-HH:MM" value evaluated in loc.
func ParseTimeWindow(raw string, loc *time.Location) (TimeWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	lo, hi, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return TimeWindow{}, errors.New(`expected "HH:MM-HH:MM"`)
	}
	start, err := parseClock(lo)
	if err != nil {
		return TimeWindow{}, err
	}
	end, err := parseClock(hi)
	if err != nil {
		return TimeWindow{}, err
	}
	if start == end {
		return TimeWindow{}, fmt.Errorf("window %q is empty", raw)
	}
	return TimeWindow{start: start, end: end, loc: loc}, nil
}

// parseClock returns minutes since midnight for "HH:MM".
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", strings.TrimSpace(s))
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Type implements Condition.
func (TimeWindow) Type() Type { return TypeTimeRange }

// Match implements Condition. A request without a timestamp never matches.
func (w TimeWindow) Match(attrs Attributes) bool {
	if attrs.Timestamp.IsZero() {
		return false
	}
	local := attrs.Timestamp.In(w.loc)
	m := local.Hour()*60 + local.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// Duration returns the length of the window.
func (w TimeWindow) Duration() time.Duration {
	span := w.end - w.start
	if span < 0 {
		span += minutesPerDay
	}
	return time.Duration(span) * time.Minute
}
