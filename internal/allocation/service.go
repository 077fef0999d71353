package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
)

type ServiceConfig struct {
	PageSize         int
	TimeBudget       time.Duration
	BreakerThreshold int
	MaxErrors        int
}

// ProgressFunc receives a cumulative snapshot after every processed page.
// Consumers must tolerate many partial invocations.
type ProgressFunc func(models.AllocationProgress)

// Service drives the page loop for one file: fetch, deduplicate, match,
// update, accumulate, record history, mark processed, merge progress. It owns
// the wall-clock budget and the page-level circuit breaker, and always
// returns a resumable snapshot instead of escaping with a page error.
type Service struct {
	dbManager database.DBManager
	ledger    *LedgerUpdater
	agents    *AgentAccumulator
	history   *HistoryRecorder
	marker    *StatusMarker
	retry     RetryPolicy
	breaker   *gobreaker.CircuitBreaker
	log       *zap.SugaredLogger
	cfg       ServiceConfig
}

func NewService(
	dbManager database.DBManager,
	ledger *LedgerUpdater,
	agents *AgentAccumulator,
	history *HistoryRecorder,
	marker *StatusMarker,
	retry RetryPolicy,
	log *zap.SugaredLogger,
	cfg ServiceConfig,
) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = 30 * time.Minute
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 100
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "allocation-pages",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
	})

	return &Service{
		dbManager: dbManager,
		ledger:    ledger,
		agents:    agents,
		history:   history,
		marker:    marker,
		retry:     retry,
		breaker:   breaker,
		log:       log,
		cfg:       cfg,
	}
}

type pageOutcome struct {
	progress  models.AllocationProgress
	empty     bool
	remaining int
}

// Run processes pages from startOffset until the file is exhausted, the time
// budget runs out, or the circuit breaker trips. The returned snapshot is
// always resumable via CurrentOffset; the error is non-nil only for context
// cancellation.
func (s *Service) Run(ctx context.Context, fileID uuid.UUID, startOffset int, onProgress ProgressFunc) (models.AllocationProgress, error) {
	start := time.Now()
	offset := startOffset
	progress := models.AllocationProgress{CurrentOffset: startOffset, State: models.StateRunning}

	finish := func(state models.RunState) models.AllocationProgress {
		progress.State = state
		progress.IsComplete = state == models.StateComplete
		progress.CurrentOffset = offset
		progress.TotalTimeMs = time.Since(start).Milliseconds()
		return progress
	}

	for {
		if err := ctx.Err(); err != nil {
			s.log.Warnf("Orchestrator: run for file %s canceled at offset %d", fileID, offset)
			return finish(models.StateAborted), err
		}

		if time.Since(start) >= s.cfg.TimeBudget {
			s.log.Infof("Orchestrator: time budget exhausted for file %s, pausing at offset %d", fileID, offset)
			return finish(models.StatePaused), nil
		}

		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.processPage(ctx, fileID, offset)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				s.log.Errorf("Orchestrator: circuit breaker open after repeated page failures, pausing file %s at offset %d", fileID, offset)
				return finish(models.StatePaused), nil
			}
			// Page-level fatal: the breaker counted it, stay on this offset.
			s.log.Errorf("Orchestrator: page at offset %d failed: %v", offset, err)
			continue
		}

		outcome := res.(pageOutcome)
		if outcome.empty {
			s.log.Infof("Orchestrator: no pending records left for file %s", fileID)
			return finish(models.StateComplete), nil
		}

		progress = progress.Merge(outcome.progress).CapErrors(s.cfg.MaxErrors)
		offset += s.cfg.PageSize
		progress.CurrentOffset = offset
		progress.State = models.StateRunning
		progress.TotalTimeMs = time.Since(start).Milliseconds()

		if onProgress != nil {
			onProgress(progress)
		}

		if outcome.remaining == 0 {
			return finish(models.StateComplete), nil
		}
	}
}

func (s *Service) processPage(ctx context.Context, fileID uuid.UUID, offset int) (pageOutcome, error) {
	var records []*models.PaymentRecord
	err := s.retry.Do(ctx, "fetch pending records", func() error {
		var ferr error
		records, ferr = s.dbManager.FetchPendingRecords(fileID, s.cfg.PageSize, offset)
		return ferr
	})
	if err != nil {
		return pageOutcome{}, err
	}
	if len(records) == 0 {
		return pageOutcome{empty: true}, nil
	}

	s.log.Infof("Orchestrator: processing page of %d records at offset %d", len(records), offset)
	page := DeduplicateByAccount(records)

	accountNumbers := make([]string, 0, len(page.Records))
	for _, record := range page.Records {
		accountNumbers = append(accountNumbers, record.AccountNumber)
	}

	var debtors map[string]*models.DebtorAccount
	err = s.retry.Do(ctx, "load debtor accounts", func() error {
		var merr error
		debtors, merr = s.dbManager.GetDebtorsByAccountNumbers(accountNumbers)
		return merr
	})
	if err != nil {
		return pageOutcome{}, err
	}

	ledgerResult := s.ledger.Apply(ctx, page.Records, debtors)

	now := time.Now()
	s.agents.Accumulate(page.Records, debtors, now.Format("2006-01"))

	if err := s.history.Record(page.Records, now); err != nil {
		// Best-effort side channel: a missing actor identity or storage
		// failure costs the audit trail, never the ledger.
		s.log.Warnf("Orchestrator: payment history recording failed: %v", err)
	}

	if _, err := s.marker.Mark(ctx, page.SourceIDs); err != nil {
		s.log.Warnf("Orchestrator: some records were not marked processed: %v", err)
	}

	var remaining int
	err = s.retry.Do(ctx, "count remaining pending records", func() error {
		var cerr error
		remaining, cerr = s.dbManager.CountPendingRecords(fileID)
		return cerr
	})
	if err != nil {
		return pageOutcome{}, err
	}

	delta := models.AllocationProgress{
		TotalProcessed:    len(records),
		AccountsUpdated:   ledgerResult.AccountsUpdated,
		AccountsCreated:   ledgerResult.AccountsCreated,
		FailedAllocations: ledgerResult.FailedAllocations,
		Errors:            ledgerResult.Errors,
	}

	return pageOutcome{progress: delta, remaining: remaining}, nil
}
