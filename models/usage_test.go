package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHourBucket(t *testing.T) {
	at := time.Date(2025, 3, 10, 14, 59, 59, 0, time.UTC)
	assert.Equal(t, "2025-03-10T14", HourBucket(at))

	// One second later is a new window.
	assert.Equal(t, "2025-03-10T15", HourBucket(at.Add(time.Second)))
}

func TestBucketsAreUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2025, 3, 10, 2, 30, 0, 0, loc)

	assert.Equal(t, "2025-03-09T21", HourBucket(local))
	assert.Equal(t, "2025-03", MonthBucket(local))
}

func TestMonthBucketRollover(t *testing.T) {
	endOfMarch := time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "2025-03", MonthBucket(endOfMarch))
	assert.Equal(t, "2025-04", MonthBucket(endOfMarch.Add(time.Second)))
}

func TestNextHour(t *testing.T) {
	at := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), NextHour(at))
}

func TestNextMonth(t *testing.T) {
	at := time.Date(2025, 12, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), NextMonth(at))
}

func TestServiceTypeValid(t *testing.T) {
	assert.True(t, ServiceQuizGeneration.Valid())
	assert.True(t, ServiceLessonSummary.Valid())
	assert.True(t, ServiceFlashcardGeneration.Valid())
	assert.False(t, ServiceType("video_generation").Valid())
	assert.False(t, ServiceType("").Valid())
}

func TestCacheEntryExpired(t *testing.T) {
	inserted := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	entry := CacheEntry{InsertedAt: inserted, TTL: 30 * time.Minute}

	assert.False(t, entry.Expired(inserted.Add(29*time.Minute)))
	assert.True(t, entry.Expired(inserted.Add(31*time.Minute)))
}
