package models

import "time"

// CacheEntry is a validated generation stored in the response cache. The TTL
// is fixed at write time from the quality score and never extended on hits.
type CacheEntry struct {
	Content      string        `json:"content"`
	Score        int           `json:"score"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used"`
	CostEstimate float64       `json:"cost_estimate"`
	InsertedAt   time.Time     `json:"inserted_at"`
	TTL          time.Duration `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}
