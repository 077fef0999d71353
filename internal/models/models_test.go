package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordPayload_ParsePaymentDate(t *testing.T) {
	t.Run("accepts the 8-digit source form", func(t *testing.T) {
		payload := RecordPayload{PaymentDate: "20250315"}

		date, ok := payload.ParsePaymentDate()

		assert.True(t, ok)
		assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), date)
	})

	t.Run("tolerates surrounding whitespace", func(t *testing.T) {
		payload := RecordPayload{PaymentDate: " 20250315 "}

		_, ok := payload.ParsePaymentDate()

		assert.True(t, ok)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		cases := []string{
			"",
			"N/A",
			"2025031",    // too short
			"202503150",  // too long
			"2025-03-15", // already formatted
			"2025031a",   // non-numeric
			"20251315",   // impossible month
			"20250230",   // impossible day
		}

		for _, raw := range cases {
			payload := RecordPayload{PaymentDate: raw}
			_, ok := payload.ParsePaymentDate()
			assert.False(t, ok, "expected %q to be rejected", raw)
		}
	})
}

func TestAllocationProgress_Merge(t *testing.T) {
	base := AllocationProgress{
		TotalProcessed:    10,
		AccountsUpdated:   8,
		FailedAllocations: 2,
		TotalTimeMs:       100,
		CurrentOffset:     10,
		State:             StateRunning,
		Errors:            []AllocationError{{AccountNumber: "A1", Message: "no matching account"}},
	}
	delta := AllocationProgress{
		TotalProcessed:    5,
		AccountsUpdated:   4,
		AccountsCreated:   1,
		FailedAllocations: 1,
		TotalTimeMs:       50,
		CurrentOffset:     15,
		IsComplete:        true,
		State:             StateComplete,
		Errors:            []AllocationError{{AccountNumber: "B2", Message: "no matching account"}},
	}

	merged := base.Merge(delta)

	assert.Equal(t, 15, merged.TotalProcessed)
	assert.Equal(t, 12, merged.AccountsUpdated)
	assert.Equal(t, 1, merged.AccountsCreated)
	assert.Equal(t, 3, merged.FailedAllocations)
	assert.Equal(t, int64(150), merged.TotalTimeMs)
	assert.Equal(t, 15, merged.CurrentOffset)
	assert.True(t, merged.IsComplete)
	assert.Equal(t, StateComplete, merged.State)
	assert.Len(t, merged.Errors, 2)
}

func TestAllocationProgress_MergeKeepsStateWhenDeltaHasNone(t *testing.T) {
	base := AllocationProgress{State: StateRunning}
	merged := base.Merge(AllocationProgress{TotalProcessed: 3})

	assert.Equal(t, StateRunning, merged.State)
}

func TestAllocationProgress_CapErrors(t *testing.T) {
	progress := AllocationProgress{}
	for i := 0; i < 150; i++ {
		progress.Errors = append(progress.Errors, AllocationError{AccountNumber: "X", Message: "no matching account"})
	}

	capped := progress.CapErrors(100)

	assert.Len(t, capped.Errors, 100)
	assert.Len(t, progress.CapErrors(0).Errors, 150, "zero cap disables truncation")
}

func TestAllocationError_Error(t *testing.T) {
	err := AllocationError{AccountNumber: "A1", Message: "no matching account"}
	assert.Equal(t, "account A1: no matching account", err.Error())
}
