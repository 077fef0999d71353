package progress

import (
	"time"

	"github.com/recoverly/payment-allocation/internal/models"
)

// Tracker derives a smoothed processing rate and an ETA from successive
// AllocationProgress snapshots. It lives on the consumer side of the
// onProgress callback and never feeds back into the run.
type Tracker struct {
	totalRecords int
	alpha        float64
	rate         float64
	lastTotal    int
	lastAt       time.Time
	primed       bool
}

// NewTracker creates a tracker for a file with totalRecords pending records.
// alpha is the smoothing factor for the exponential moving average; values
// closer to 1 favor the most recent page.
func NewTracker(totalRecords int, alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Tracker{
		totalRecords: totalRecords,
		alpha:        alpha,
	}
}

// Observe folds one snapshot into the moving average. Snapshots are expected
// to be monotonically non-decreasing in TotalProcessed; a stale or repeated
// snapshot is ignored.
func (t *Tracker) Observe(snapshot models.AllocationProgress, at time.Time) {
	if !t.primed {
		t.lastTotal = snapshot.TotalProcessed
		t.lastAt = at
		t.primed = true
		return
	}

	delta := snapshot.TotalProcessed - t.lastTotal
	elapsed := at.Sub(t.lastAt).Seconds()
	if delta <= 0 || elapsed <= 0 {
		return
	}

	instant := float64(delta) / elapsed
	if t.rate == 0 {
		t.rate = instant
	} else {
		t.rate = t.alpha*instant + (1-t.alpha)*t.rate
	}

	t.lastTotal = snapshot.TotalProcessed
	t.lastAt = at
}

// Rate returns the smoothed processing rate in records per second.
func (t *Tracker) Rate() float64 {
	return t.rate
}

// ETA estimates the remaining time from the smoothed rate. The second return
// is false until at least two snapshots have produced a usable rate.
func (t *Tracker) ETA() (time.Duration, bool) {
	if t.rate <= 0 {
		return 0, false
	}

	remaining := t.totalRecords - t.lastTotal
	if remaining <= 0 {
		return 0, true
	}

	seconds := float64(remaining) / t.rate
	return time.Duration(seconds * float64(time.Second)), true
}
