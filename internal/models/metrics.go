package models

import "time"

// SystemMetrics is a lightweight snapshot of engine counters for operators.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	SessionTransitions       uint64    `json:"session_transitions"`
	CreditsDeducted          uint64    `json:"credits_deducted"`
	CreditsRefunded          uint64    `json:"credits_refunded"`
	OccurrencesSkipped       uint64    `json:"occurrences_skipped"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
