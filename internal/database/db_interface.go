package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recoverly/payment-allocation/internal/models"
)

// DBManager defines the storage operations the allocation engine depends on.
// Schema management lives on the concrete PostgresDBManager and is only used
// by the setup command.
type DBManager interface {
	FetchPendingRecords(fileID uuid.UUID, limit, offset int) ([]*models.PaymentRecord, error)
	CountPendingRecords(fileID uuid.UUID) (int, error)

	GetDebtorsByAccountNumbers(accountNumbers []string) (map[string]*models.DebtorAccount, error)
	ApplyLedgerUpdates(updates []models.LedgerUpdate) error
	CreateDebtorsWithDefaults(updates []models.LedgerUpdate) (int, error)

	UpsertAgentPerformance(agentID uuid.UUID, monthYear string, amount, defaultTarget decimal.Decimal) error

	GetWeeklyBatch(weekStart time.Time) (*models.UploadBatch, error)
	CreateWeeklyBatch(weekStart time.Time, actorID uuid.UUID) (*models.UploadBatch, error)
	InsertHistoryEntries(batchID uuid.UUID, entries []models.PaymentHistoryEntry) error

	MarkRecordsProcessed(ids []uuid.UUID) error
	ResetRecordsPending(ids []uuid.UUID) error

	TryAcquireFileLock(key int64) (bool, error)
	ReleaseFileLock(key int64) error
}
