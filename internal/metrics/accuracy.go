package metrics

import (
	"sync"
	"time"
)

// AccuracyPoint is one learning accuracy sample
type AccuracyPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Accuracy  float64   `json:"accuracy"`
}

// AccuracyTracker keeps the most recent accuracy samples in a ring
type AccuracyTracker struct {
	mu     sync.Mutex
	points []AccuracyPoint
	next   int
	full   bool
	sum    float64
}

// NewAccuracyTracker creates a tracker holding up to size samples
func NewAccuracyTracker(size int) *AccuracyTracker {
	if size <= 0 {
		size = 500
	}
	return &AccuracyTracker{points: make([]AccuracyPoint, size)}
}

// Add records a sample and returns the mean over the window
func (t *AccuracyTracker) Add(at time.Time, accuracy float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.full {
		t.sum -= t.points[t.next].Accuracy
	}
	t.points[t.next] = AccuracyPoint{Timestamp: at, Accuracy: accuracy}
	t.sum += accuracy
	t.next++
	if t.next == len(t.points) {
		t.next = 0
		t.full = true
	}
	return t.sum / float64(t.lenLocked())
}

// Mean returns the mean over the window, or 0 when empty
func (t *AccuracyTracker) Mean() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lenLocked()
	if n == 0 {
		return 0
	}
	return t.sum / float64(n)
}

// Series returns the samples oldest first
func (t *AccuracyTracker) Series() []AccuracyPoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]AccuracyPoint(nil), t.points[:t.next]...)
	}
	out := make([]AccuracyPoint, 0, len(t.points))
	out = append(out, t.points[t.next:]...)
	return append(out, t.points[:t.next]...)
}

func (t *AccuracyTracker) lenLocked() int {
	if t.full {
		return len(t.points)
	}
	return t.next
}
