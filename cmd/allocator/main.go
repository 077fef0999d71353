package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/allocation"
	"github.com/recoverly/payment-allocation/internal/config"
	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
	"github.com/recoverly/payment-allocation/internal/progress"
)

func setup(logger *zap.SugaredLogger) (uuid.UUID, *allocation.Resumer, *config.Config, database.DBManager, func(), error) {
	if len(os.Args) < 2 {
		return uuid.Nil, nil, nil, nil, nil, fmt.Errorf("please provide the payment file id as a command-line argument")
	}

	fileID, err := uuid.Parse(os.Args[1])
	if err != nil {
		return uuid.Nil, nil, nil, nil, nil, fmt.Errorf("invalid payment file id %q: %w", os.Args[1], err)
	}

	cfg, err := config.New()
	if err != nil {
		return uuid.Nil, nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbpool, err := database.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		return uuid.Nil, nil, nil, nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	ctx := context.Background()
	dbManager := database.NewPostgresDBManager(ctx, dbpool)

	retry := allocation.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
	}

	// Actor identity comes from the environment in the CLI context; the web
	// collaborators resolve it from the session instead.
	actor := func() (uuid.UUID, bool) {
		raw := os.Getenv("ALLOCATION_ACTOR_ID")
		if raw == "" {
			return uuid.Nil, false
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, false
		}
		return id, true
	}

	ledger := allocation.NewLedgerUpdater(dbManager, logger, retry, cfg.ChunkSize, allocation.UnmatchedPolicy(cfg.UnmatchedPolicy))
	agents := allocation.NewAgentAccumulator(dbManager, logger, cfg.DefaultAgentTarget)
	history := allocation.NewHistoryRecorder(dbManager, logger, actor)
	marker := allocation.NewStatusMarker(dbManager, logger, retry, cfg.ChunkSize)

	service := allocation.NewService(dbManager, ledger, agents, history, marker, retry, logger, allocation.ServiceConfig{
		PageSize:         cfg.PageSize,
		TimeBudget:       cfg.TimeBudget,
		BreakerThreshold: cfg.BreakerThreshold,
		MaxErrors:        cfg.MaxRunErrors,
	})

	resumer := allocation.NewResumer(service, dbManager, logger, cfg.ResumeDelay)

	cleanupFunc := func() {
		dbpool.Close()
	}

	return fileID, resumer, cfg, dbManager, cleanupFunc, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	startTime := time.Now()

	fileID, resumer, cfg, dbManager, cleanupFunc, err := setup(logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer cleanupFunc()

	totalPending, err := dbManager.CountPendingRecords(fileID)
	if err != nil {
		logger.Fatalf("Failed to count pending records: %v", err)
	}
	logger.Infof("Starting allocation for file %s: %d pending records", fileID, totalPending)

	tracker := progress.NewTracker(totalPending, 0.3)
	onProgress := func(snapshot models.AllocationProgress) {
		tracker.Observe(snapshot, time.Now())
		if eta, ok := tracker.ETA(); ok {
			logger.Infof("Progress: %d processed, %d updated, %d failed, %.1f rec/s, ETA %s",
				snapshot.TotalProcessed, snapshot.AccountsUpdated, snapshot.FailedAllocations, tracker.Rate(), eta.Round(time.Second))
		} else {
			logger.Infof("Progress: %d processed, %d updated, %d failed",
				snapshot.TotalProcessed, snapshot.AccountsUpdated, snapshot.FailedAllocations)
		}
	}

	result, err := resumer.ProcessLargePaymentFile(context.Background(), fileID, onProgress, cfg.MaxResumeAttempts)
	if err != nil {
		logger.Fatalf("Error during allocation: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatalf("Failed to encode final snapshot: %v", err)
	}
	fmt.Println(string(out))

	logger.Infof("Allocation finished in %s (state: %s)", time.Since(startTime), result.State)
}
