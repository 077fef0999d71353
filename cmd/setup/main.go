package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/recoverly/payment-allocation/internal/config"
	"github.com/recoverly/payment-allocation/internal/database"
)

// One-shot schema setup for the allocation engine's tables and indexes.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	dbpool, err := database.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	dbManager := database.NewPostgresDBManager(context.Background(), dbpool)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"payment_records", dbManager.CreatePaymentRecordsTable},
		{"debtor_accounts", dbManager.CreateDebtorAccountsTable},
		{"agent_performance", dbManager.CreateAgentPerformanceTable},
		{"upload_batches", dbManager.CreateUploadBatchesTable},
		{"payment_history_entries", dbManager.CreatePaymentHistoryEntriesTable},
		{"indexes", dbManager.CreateAllocationIndexes},
	}

	for _, step := range steps {
		log.Printf("Creating %s...", step.name)
		if err := step.fn(); err != nil {
			log.Fatalf("setup failed at %s: %v", step.name, err)
		}
	}

	log.Println("Schema setup complete.")
}
