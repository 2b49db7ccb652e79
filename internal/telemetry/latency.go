package telemetry

import (
	"sync"
	"time"
)

// Bucket separates inspection latency by workload shape; attachments
// carry parsing cost that would skew the text numbers.
type Bucket string

const (
	BucketText       Bucket = "text"
	BucketAttachment Bucket = "attachment"
)

// SlowInspectionThreshold is the latency above which an inspection is
// logged as slow. Inspections are synchronous on the request path, so
// anything past this is user-visible stall.
const SlowInspectionThreshold = 300 * time.Millisecond

// LatencyTracker keeps running latency summaries per bucket.
type LatencyTracker struct {
	mu      sync.Mutex
	buckets map[Bucket]*latencyStats
	slow    uint64
}

type latencyStats struct {
	count uint64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// LatencySummary is the JSON view of one bucket.
type LatencySummary struct {
	Count uint64  `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MinMS float64 `json:"min_ms"`
	MaxMS float64 `json:"max_ms"`
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{buckets: make(map[Bucket]*latencyStats)}
}

// Observe folds one measurement in and reports whether it crossed the
// slow threshold.
func (lt *LatencyTracker) Observe(bucket Bucket, elapsed time.Duration) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	st := lt.buckets[bucket]
	if st == nil {
		st = &latencyStats{min: elapsed, max: elapsed}
		lt.buckets[bucket] = st
	}
	st.count++
	st.total += elapsed
	if elapsed < st.min {
		st.min = elapsed
	}
	if elapsed > st.max {
		st.max = elapsed
	}

	if elapsed > SlowInspectionThreshold {
		lt.slow++
		return true
	}
	return false
}

// SlowCount returns the number of observations over the threshold.
func (lt *LatencyTracker) SlowCount() uint64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.slow
}

// Summaries returns per-bucket summaries in milliseconds.
func (lt *LatencyTracker) Summaries() map[Bucket]LatencySummary {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	out := make(map[Bucket]LatencySummary, len(lt.buckets))
	for bucket, st := range lt.buckets {
		out[bucket] = LatencySummary{
			Count: st.count,
			AvgMS: float64(st.total.Milliseconds()) / float64(st.count),
			MinMS: float64(st.min.Milliseconds()),
			MaxMS: float64(st.max.Milliseconds()),
		}
	}
	return out
}
