package observability

import (
	"sync"
	"time"
)

// ScanTracker accumulates pruning effectiveness over a rolling window.
// It answers the operational question behind partition pruning: of the
// partitions a query could have touched, how many were actually read.
type ScanTracker struct {
	mu      sync.RWMutex
	samples []scanSample
	window  time.Duration
}

type scanSample struct {
	at      time.Time
	total   int
	scanned int
}

// NewScanTracker creates a tracker keeping samples for the given window
// (e.g. 1 hour).
func NewScanTracker(window time.Duration) *ScanTracker {
	return &ScanTracker{window: window}
}

// Record adds one scan's pruning outcome. O(1) amortized, thread-safe.
func (t *ScanTracker) Record(totalPartitions, scannedPartitions int) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, scanSample{at: now, total: totalPartitions, scanned: scannedPartitions})
	t.evict(now)
}

// Summary reports aggregate pruning effectiveness for the window.
type Summary struct {
	Scans             int64   `json:"scans"`
	PartitionsTotal   int64   `json:"partitions_total"`
	PartitionsScanned int64   `json:"partitions_scanned"`
	PruningRatio      float64 `json:"pruning_ratio"`
}

// Summarize computes the current window's summary.
func (t *ScanTracker) Summarize() Summary {
	t.mu.Lock()
	t.evict(time.Now())
	samples := make([]scanSample, len(t.samples))
	copy(samples, t.samples)
	t.mu.Unlock()

	var s Summary
	for _, sample := range samples {
		s.Scans++
		s.PartitionsTotal += int64(sample.total)
		s.PartitionsScanned += int64(sample.scanned)
	}
	if s.PartitionsTotal > 0 {
		s.PruningRatio = float64(s.PartitionsTotal-s.PartitionsScanned) / float64(s.PartitionsTotal)
	}
	return s
}

// evict drops samples older than the window. Caller holds mu.
func (t *ScanTracker) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}
