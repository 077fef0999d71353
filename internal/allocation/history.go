package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
)

// ErrNoActorIdentity is returned when a weekly batch must be created but no
// actor identity could be resolved. Fatal for the history side channel only.
var ErrNoActorIdentity = errors.New("no actor identity resolved")

// ActorResolver resolves the identity a newly created weekly batch is
// attributed to. The second return reports whether an identity was available.
type ActorResolver func() (uuid.UUID, bool)

// HistoryRecorder groups processed records into a weekly audit batch and
// derives normalized history entries, independent of the live ledger fields.
type HistoryRecorder struct {
	dbManager database.DBManager
	log       *zap.SugaredLogger
	actor     ActorResolver
}

func NewHistoryRecorder(dbManager database.DBManager, log *zap.SugaredLogger, actor ActorResolver) *HistoryRecorder {
	return &HistoryRecorder{
		dbManager: dbManager,
		log:       log,
		actor:     actor,
	}
}

// WeekStart returns the Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, 1-weekday)
}

// Record persists history entries for a deduplicated page under the week's
// batch, reusing the batch if one exists. Creating a new batch requires a
// resolved actor identity.
func (r *HistoryRecorder) Record(records []*models.PaymentRecord, now time.Time) error {
	if len(records) == 0 {
		return nil
	}

	weekStart := WeekStart(now)
	batch, err := r.dbManager.GetWeeklyBatch(weekStart)
	if err != nil {
		return fmt.Errorf("error loading weekly batch: %w", err)
	}

	if batch == nil {
		actorID, ok := r.actor()
		if !ok {
			return ErrNoActorIdentity
		}
		batch, err = r.dbManager.CreateWeeklyBatch(weekStart, actorID)
		if err != nil {
			return fmt.Errorf("error creating weekly batch: %w", err)
		}
		r.log.Infof("History recorder: created weekly batch %s for week starting %s", batch.ID, weekStart.Format("2006-01-02"))
	}

	entries := make([]models.PaymentHistoryEntry, 0, len(records))
	for _, record := range records {
		var paymentDate *time.Time
		if date, ok := record.Payload.ParsePaymentDate(); ok {
			paymentDate = &date
		}
		entries = append(entries, models.PaymentHistoryEntry{
			ID:            uuid.New(),
			BatchID:       batch.ID,
			RecordID:      record.ID,
			AccountNumber: record.AccountNumber,
			Amount:        record.Amount,
			Balance:       record.OutstandingTotal,
			PaymentDate:   paymentDate,
			CreatedAt:     now,
		})
	}

	if err := r.dbManager.InsertHistoryEntries(batch.ID, entries); err != nil {
		return fmt.Errorf("error persisting history entries: %w", err)
	}

	return nil
}
