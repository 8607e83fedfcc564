package matcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// matchDate evaluates is_date_before / is_date_after. The comparison value
// may be an absolute RFC3339 timestamp or a relative token of the form
// "-Nd", "-Nh", "-Nw", "-Nm", "-Ny" (days/hours/weeks/months/years before
// now), resolved against the Matcher's now() at evaluation time.
func (m *Matcher) matchDate(value, compareTo any, before bool) (Result, error) {
	subject, err := parseFlexibleTime(toString(value))
	if err != nil {
		return Inconclusive, nil
	}

	target, err := m.resolveDateValue(toString(compareTo))
	if err != nil {
		return Inconclusive, nil
	}

	if before {
		return boolResult(subject.Before(target)), nil
	}
	return boolResult(subject.After(target)), nil
}

func (m *Matcher) resolveDateValue(raw string) (time.Time, error) {
	if d, ok := parseRelativeToken(raw); ok {
		return m.now().Add(-d), nil
	}
	return parseFlexibleTime(raw)
}

func parseFlexibleTime(raw string) (time.Time, error) {
	layouts := []string{time.RFC3339, time.RFC3339Nano, "2006-01-02", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}

// parseRelativeToken parses tokens like "-30d", "-2w", "-1y" into a
// duration to subtract from now. Months and years are approximated as
// 30 and 365 days, matching the granularity these relative filters need.
func parseRelativeToken(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "-") || len(raw) < 3 {
		return 0, false
	}
	unit := raw[len(raw)-1]
	numStr := raw[1 : len(raw)-1]
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, false
	}

	var perUnit time.Duration
	switch unit {
	case 'h':
		perUnit = time.Hour
	case 'd':
		perUnit = 24 * time.Hour
	case 'w':
		perUnit = 7 * 24 * time.Hour
	case 'm':
		perUnit = 30 * 24 * time.Hour
	case 'y':
		perUnit = 365 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * perUnit, true
}
