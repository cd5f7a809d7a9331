package utils

import "time"

// NowUTC is the clock used by every component; tests replace it per
// component through SetClock.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// DayStartUTC returns the start of the UTC calendar day containing t. Daily
// quotas reset at this boundary.
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
