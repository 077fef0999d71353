package allocation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
)

// UnmatchedPolicy decides what happens to a record whose account number has
// no debtor row: reject it as a failed allocation, or create the debtor with
// defaults and count it as created.
type UnmatchedPolicy string

const (
	PolicyRejectUnmatched    UnmatchedPolicy = "reject-unmatched"
	PolicyCreateWithDefaults UnmatchedPolicy = "create-with-defaults"
)

const msgNoMatchingAccount = "no matching account"

// LedgerResult is the ledger stage's contribution to a page's progress.
type LedgerResult struct {
	AccountsUpdated   int
	AccountsCreated   int
	FailedAllocations int
	Errors            []models.AllocationError
}

// LedgerUpdater stages balance and payment-date changes for a deduplicated
// page and applies them in fixed sub-chunks, each retried independently.
type LedgerUpdater struct {
	dbManager database.DBManager
	log       *zap.SugaredLogger
	retry     RetryPolicy
	chunkSize int
	policy    UnmatchedPolicy
}

func NewLedgerUpdater(dbManager database.DBManager, log *zap.SugaredLogger, retry RetryPolicy, chunkSize int, policy UnmatchedPolicy) *LedgerUpdater {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	if policy == "" {
		policy = PolicyRejectUnmatched
	}
	return &LedgerUpdater{
		dbManager: dbManager,
		log:       log,
		retry:     retry,
		chunkSize: chunkSize,
		policy:    policy,
	}
}

// Apply reconciles each deduplicated record against the preloaded debtor
// lookup. Matched records stage an update keyed by the debtor row id; the
// payment date is only staged when the payload carries a well-formed source
// date, so a malformed date never touches last_payment_date. A sub-chunk
// that exhausts its retries records one error per account and never aborts
// sibling chunks.
func (u *LedgerUpdater) Apply(ctx context.Context, records []*models.PaymentRecord, debtors map[string]*models.DebtorAccount) LedgerResult {
	result := LedgerResult{}

	updates := make([]models.LedgerUpdate, 0, len(records))
	var creates []models.LedgerUpdate

	for _, record := range records {
		var paymentDate *time.Time
		if date, ok := record.Payload.ParsePaymentDate(); ok {
			paymentDate = &date
		}

		staged := models.LedgerUpdate{
			AccountNumber: record.AccountNumber,
			Balance:       record.OutstandingTotal,
			Amount:        record.Amount,
			PaymentDate:   paymentDate,
		}

		debtor, matched := debtors[record.AccountNumber]
		if matched {
			staged.DebtorID = debtor.ID
			staged.AssignedAgentID = debtor.AssignedAgentID
			updates = append(updates, staged)
			continue
		}

		if u.policy == PolicyCreateWithDefaults {
			creates = append(creates, staged)
			continue
		}

		result.FailedAllocations++
		result.Errors = append(result.Errors, models.AllocationError{
			AccountNumber: record.AccountNumber,
			Message:       msgNoMatchingAccount,
		})
	}

	for _, chunk := range chunkUpdates(updates, u.chunkSize) {
		chunk := chunk
		err := u.retry.Do(ctx, "apply ledger chunk", func() error {
			return u.dbManager.ApplyLedgerUpdates(chunk)
		})
		if err != nil {
			u.log.Errorf("Ledger updater: chunk of %d updates failed: %v", len(chunk), err)
			for _, update := range chunk {
				result.FailedAllocations++
				result.Errors = append(result.Errors, models.AllocationError{
					AccountNumber: update.AccountNumber,
					Message:       "ledger update failed: " + err.Error(),
				})
			}
			continue
		}
		result.AccountsUpdated += len(chunk)
	}

	for _, chunk := range chunkUpdates(creates, u.chunkSize) {
		chunk := chunk
		var created int
		err := u.retry.Do(ctx, "create debtor chunk", func() error {
			var err error
			created, err = u.dbManager.CreateDebtorsWithDefaults(chunk)
			return err
		})
		if err != nil {
			u.log.Errorf("Ledger updater: create chunk of %d debtors failed: %v", len(chunk), err)
			for _, update := range chunk {
				result.FailedAllocations++
				result.Errors = append(result.Errors, models.AllocationError{
					AccountNumber: update.AccountNumber,
					Message:       "debtor creation failed: " + err.Error(),
				})
			}
			continue
		}
		result.AccountsCreated += created
	}

	return result
}

func chunkUpdates(updates []models.LedgerUpdate, size int) [][]models.LedgerUpdate {
	if len(updates) == 0 {
		return nil
	}

	chunks := make([][]models.LedgerUpdate, 0, (len(updates)+size-1)/size)
	for start := 0; start < len(updates); start += size {
		end := start + size
		if end > len(updates) {
			end = len(updates)
		}
		chunks = append(chunks, updates[start:end])
	}
	return chunks
}
