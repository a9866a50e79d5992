// Package billingcycle computes the current billing period for an org from
// its anchor day. Used whenever the processor cannot tell us the period.
package billingcycle

import "time"

// clampDay returns the anchor day clamped to the last day of the given month.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func boundary(year int, month time.Month, anchorDay int) time.Time {
	return time.Date(year, month, clampDay(year, month, anchorDay), 0, 0, 0, 0, time.UTC)
}

func normalizeAnchor(anchorDay int, createdAt time.Time) int {
	if anchorDay <= 0 {
		anchorDay = createdAt.UTC().Day()
	}
	if anchorDay > 31 {
		anchorDay = 31
	}
	if anchorDay < 1 {
		anchorDay = 1
	}
	return anchorDay
}

// Start returns the most recent cycle boundary at or before now. The anchor
// is a day of month; zero or negative anchors fall back to the day of
// createdAt. Months shorter than the anchor clamp to their last day.
func Start(now time.Time, anchorDay int, createdAt time.Time) time.Time {
	now = now.UTC()
	anchorDay = normalizeAnchor(anchorDay, createdAt)

	start := boundary(now.Year(), now.Month(), anchorDay)
	if start.After(now) {
		prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		start = boundary(prev.Year(), prev.Month(), anchorDay)
	}
	return start
}

// End returns the next cycle boundary strictly after now.
func End(now time.Time, anchorDay int, createdAt time.Time) time.Time {
	now = now.UTC()
	anchorDay = normalizeAnchor(anchorDay, createdAt)

	start := Start(now, anchorDay, createdAt)
	next := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return boundary(next.Year(), next.Month(), anchorDay)
}
