package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
	"github.com/recoverly/payment-allocation/pkg/lockid"
)

// ErrRunInProgress means another process holds the advisory lock for the
// file and a second concurrent run was refused.
var ErrRunInProgress = errors.New("allocation run already in progress for this file")

// Resumer re-invokes the orchestrator from the last checkpoint until the file
// is complete or the attempt budget is exhausted, holding the per-file
// advisory lock for the whole run.
type Resumer struct {
	service   *Service
	dbManager database.DBManager
	log       *zap.SugaredLogger
	delay     time.Duration
}

func NewResumer(service *Service, dbManager database.DBManager, log *zap.SugaredLogger, delay time.Duration) *Resumer {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Resumer{
		service:   service,
		dbManager: dbManager,
		log:       log,
		delay:     delay,
	}
}

// ProcessLargePaymentFile is the primary entry point. onProgress observes the
// run-wide cumulative snapshot after every page, across attempts.
func (r *Resumer) ProcessLargePaymentFile(ctx context.Context, fileID uuid.UUID, onProgress ProgressFunc, maxAttempts int) (models.AllocationProgress, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	key := lockid.ForFile(fileID)
	locked, err := r.dbManager.TryAcquireFileLock(key)
	if err != nil {
		return models.AllocationProgress{}, fmt.Errorf("error acquiring file lock: %w", err)
	}
	if !locked {
		return models.AllocationProgress{}, ErrRunInProgress
	}
	defer func() {
		if err := r.dbManager.ReleaseFileLock(key); err != nil {
			r.log.Warnf("Resumer: failed to release lock for file %s: %v", fileID, err)
		}
	}()

	total := models.AllocationProgress{State: models.StateRunning}
	offset := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.log.Infof("Resumer: attempt %d/%d for file %s from offset %d", attempt, maxAttempts, fileID, offset)

		base := total
		var wrapped ProgressFunc
		if onProgress != nil {
			wrapped = func(p models.AllocationProgress) {
				onProgress(base.Merge(p))
			}
		}

		attemptProgress, err := r.service.Run(ctx, fileID, offset, wrapped)
		total = total.Merge(attemptProgress)
		if err != nil {
			return total, err
		}

		if attemptProgress.IsComplete {
			r.log.Infof("Resumer: file %s complete after %d attempt(s): %d processed, %d updated, %d failed",
				fileID, attempt, total.TotalProcessed, total.AccountsUpdated, total.FailedAllocations)
			return total, nil
		}

		offset = attemptProgress.CurrentOffset
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				total.State = models.StateAborted
				return total, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}

	r.log.Warnf("Resumer: attempt budget exhausted for file %s, paused at offset %d", fileID, offset)
	total.State = models.StatePaused
	return total, nil
}
