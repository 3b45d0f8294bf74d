package models

import "time"

// UsageRecord is one per-user, per-service usage counter for a single time
// bucket. Buckets come in two granularities: calendar hour ("2006-01-02T15")
// and calendar month ("2006-01"), both in UTC. Counters only grow; windows
// expire by natural rollover to a new bucket key, never by decrement.
type UsageRecord struct {
	UserID  string
	Service ServiceType
	Bucket  string
	Calls   int
	Cost    float64
}

// HourBucket returns the calendar-hour bucket key for t. Rollover happens at
// the top of the hour, matching the user-facing "resets on the hour" contract.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// MonthBucket returns the calendar-month bucket key for t.
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextHour returns the start of the hour following t.
func NextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

// NextMonth returns the first instant of the month following t.
func NextMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
