package allocation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
)

// StatusMarker flips source records to processed after the page's allocation
// attempts complete. It operates on the pre-deduplication ids: every original
// row is consumed once its account's update was attempted, whatever the
// outcome. ResetRecordsPending on the DBManager is the explicit reversal for
// callers that want failed accounts retried.
type StatusMarker struct {
	dbManager database.DBManager
	log       *zap.SugaredLogger
	retry     RetryPolicy
	chunkSize int
}

func NewStatusMarker(dbManager database.DBManager, log *zap.SugaredLogger, retry RetryPolicy, chunkSize int) *StatusMarker {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &StatusMarker{
		dbManager: dbManager,
		log:       log,
		retry:     retry,
		chunkSize: chunkSize,
	}
}

// Mark transitions the given record ids to processed in sub-chunks, each
// retried independently. Returns how many ids were marked; a chunk that
// exhausts its retries is logged and skipped without aborting siblings.
func (s *StatusMarker) Mark(ctx context.Context, ids []uuid.UUID) (int, error) {
	marked := 0
	var lastErr error

	for start := 0; start < len(ids); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		err := s.retry.Do(ctx, "mark records processed", func() error {
			return s.dbManager.MarkRecordsProcessed(chunk)
		})
		if err != nil {
			s.log.Errorf("Status marker: chunk of %d records failed: %v", len(chunk), err)
			lastErr = err
			continue
		}
		marked += len(chunk)
	}

	return marked, lastErr
}
