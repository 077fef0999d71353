package allocation

import (
	"github.com/google/uuid"

	"github.com/recoverly/payment-allocation/internal/models"
)

// DeduplicatedPage holds the one-record-per-account view of a fetched page
// plus the ids of every source row, which the status marker needs regardless
// of deduplication.
type DeduplicatedPage struct {
	Records   []*models.PaymentRecord
	SourceIDs []uuid.UUID
}

// DeduplicateByAccount collapses a page to the most recently created record
// per account number. A file may carry corrective duplicate lines for one
// account; only the latest reflects truth. Kept records preserve first-seen
// account order.
func DeduplicateByAccount(page []*models.PaymentRecord) DeduplicatedPage {
	result := DeduplicatedPage{
		SourceIDs: make([]uuid.UUID, 0, len(page)),
	}

	latest := make(map[string]int, len(page))
	for _, record := range page {
		result.SourceIDs = append(result.SourceIDs, record.ID)

		idx, seen := latest[record.AccountNumber]
		if !seen {
			latest[record.AccountNumber] = len(result.Records)
			result.Records = append(result.Records, record)
			continue
		}
		// Equal timestamps keep the later row, matching created_at ordering.
		if !record.CreatedAt.Before(result.Records[idx].CreatedAt) {
			result.Records[idx] = record
		}
	}

	return result
}
