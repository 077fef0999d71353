package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/recoverly/payment-allocation/internal/models"
)

func TestTracker(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	t.Run("no rate before two snapshots", func(t *testing.T) {
		tracker := NewTracker(300, 0.3)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)

		assert.Zero(t, tracker.Rate())
		_, ok := tracker.ETA()
		assert.False(t, ok)
	})

	t.Run("first delta sets the rate directly", func(t *testing.T) {
		tracker := NewTracker(300, 0.3)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 100}, t0.Add(time.Second))

		assert.InDelta(t, 100.0, tracker.Rate(), 0.001)

		eta, ok := tracker.ETA()
		assert.True(t, ok)
		assert.InDelta(t, 2.0, eta.Seconds(), 0.001)
	})

	t.Run("later deltas are smoothed", func(t *testing.T) {
		tracker := NewTracker(300, 0.3)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 100}, t0.Add(time.Second))
		// 100 records over 2s: instantaneous rate 50/s.
		tracker.Observe(models.AllocationProgress{TotalProcessed: 200}, t0.Add(3*time.Second))

		assert.InDelta(t, 0.3*50+0.7*100, tracker.Rate(), 0.001)
	})

	t.Run("stale snapshots are ignored", func(t *testing.T) {
		tracker := NewTracker(300, 0.3)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 100}, t0.Add(time.Second))
		tracker.Observe(models.AllocationProgress{TotalProcessed: 100}, t0.Add(2*time.Second))

		assert.InDelta(t, 100.0, tracker.Rate(), 0.001)
	})

	t.Run("eta reaches zero when everything is processed", func(t *testing.T) {
		tracker := NewTracker(200, 0.3)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 200}, t0.Add(time.Second))

		eta, ok := tracker.ETA()
		assert.True(t, ok)
		assert.Equal(t, time.Duration(0), eta)
	})

	t.Run("invalid smoothing factor falls back to the default", func(t *testing.T) {
		tracker := NewTracker(100, -1)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 0}, t0)
		tracker.Observe(models.AllocationProgress{TotalProcessed: 50}, t0.Add(time.Second))

		assert.InDelta(t, 50.0, tracker.Rate(), 0.001)
	})
}
