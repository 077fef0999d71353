package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/recoverly/payment-allocation/internal/models"
)

func ConnectDB(connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	return dbpool, nil
}

type PostgresDBManager struct {
	dbpool   *pgxpool.Pool
	ctx      context.Context
	lockConn *pgxpool.Conn
}

func NewPostgresDBManager(ctx context.Context, pool *pgxpool.Pool) *PostgresDBManager {
	return &PostgresDBManager{dbpool: pool, ctx: ctx}
}

func (m *PostgresDBManager) CreatePaymentRecordsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS payment_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_number VARCHAR(64) NOT NULL,
		amount NUMERIC(18, 2) NOT NULL,
		outstanding_balance_total NUMERIC(18, 2) NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		payment_file_id UUID NOT NULL,
		processing_status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (processing_status IN ('pending', 'processed', 'failed')),
		processed_at TIMESTAMPTZ
	);`

	_, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return fmt.Errorf("error creating payment_records table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreateDebtorAccountsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS debtor_accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_number VARCHAR(64) NOT NULL UNIQUE,
		outstanding_balance NUMERIC(18, 2) NOT NULL DEFAULT 0,
		last_payment_amount NUMERIC(18, 2) NOT NULL DEFAULT 0,
		last_payment_date DATE,
		assigned_agent_id UUID,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return fmt.Errorf("error creating debtor_accounts table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreateAgentPerformanceTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS agent_performance (
		agent_id UUID NOT NULL,
		month_year CHAR(7) NOT NULL,
		collected_amount NUMERIC(18, 2) NOT NULL DEFAULT 0,
		target NUMERIC(18, 2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (agent_id, month_year)
	);`

	_, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return fmt.Errorf("error creating agent_performance table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreateUploadBatchesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS upload_batches (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		week_start DATE NOT NULL UNIQUE,
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return fmt.Errorf("error creating upload_batches table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreatePaymentHistoryEntriesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS payment_history_entries (
		id UUID PRIMARY KEY,
		batch_id UUID NOT NULL REFERENCES upload_batches(id),
		record_id UUID NOT NULL,
		account_number VARCHAR(64) NOT NULL,
		amount NUMERIC(18, 2) NOT NULL,
		balance NUMERIC(18, 2) NOT NULL,
		payment_date DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return fmt.Errorf("error creating payment_history_entries table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreateAllocationIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_payment_records_pending ON payment_records (payment_file_id, processing_status, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_history_entries_batch ON payment_history_entries (batch_id);`,
	}

	for _, query := range queries {
		_, err := m.dbpool.Exec(m.ctx, query)
		if err != nil {
			return fmt.Errorf("error creating index: %v", err)
		}
	}

	return nil
}

func (m *PostgresDBManager) FetchPendingRecords(fileID uuid.UUID, limit, offset int) ([]*models.PaymentRecord, error) {
	query := `
	SELECT id, account_number, amount, outstanding_balance_total, payload, created_at, payment_file_id, processing_status, processed_at
	FROM payment_records
	WHERE payment_file_id = $1 AND processing_status = 'pending'
	ORDER BY created_at ASC
	LIMIT $2 OFFSET $3;`

	rows, err := m.dbpool.Query(m.ctx, query, fileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error fetching pending records: %w", err)
	}
	defer rows.Close()

	var records []*models.PaymentRecord
	for rows.Next() {
		record := &models.PaymentRecord{}
		err := rows.Scan(
			&record.ID,
			&record.AccountNumber,
			&record.Amount,
			&record.OutstandingTotal,
			&record.Payload,
			&record.CreatedAt,
			&record.PaymentFileID,
			&record.Status,
			&record.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning payment record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payment records: %w", err)
	}

	return records, nil
}

func (m *PostgresDBManager) CountPendingRecords(fileID uuid.UUID) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM payment_records
	WHERE payment_file_id = $1 AND processing_status = 'pending';`

	var count int
	err := m.dbpool.QueryRow(m.ctx, query, fileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting pending records: %w", err)
	}

	return count, nil
}

func (m *PostgresDBManager) GetDebtorsByAccountNumbers(accountNumbers []string) (map[string]*models.DebtorAccount, error) {
	debtors := make(map[string]*models.DebtorAccount, len(accountNumbers))
	if len(accountNumbers) == 0 {
		return debtors, nil
	}

	query := `
	SELECT id, account_number, outstanding_balance, last_payment_amount, last_payment_date, assigned_agent_id, updated_at
	FROM debtor_accounts
	WHERE account_number = ANY($1);`

	rows, err := m.dbpool.Query(m.ctx, query, accountNumbers)
	if err != nil {
		return nil, fmt.Errorf("error loading debtor accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		debtor := &models.DebtorAccount{}
		err := rows.Scan(
			&debtor.ID,
			&debtor.AccountNumber,
			&debtor.OutstandingBalance,
			&debtor.LastPaymentAmount,
			&debtor.LastPaymentDate,
			&debtor.AssignedAgentID,
			&debtor.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning debtor account: %w", err)
		}
		debtors[debtor.AccountNumber] = debtor
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over debtor accounts: %w", err)
	}

	return debtors, nil
}

// ApplyLedgerUpdates applies one sub-chunk of staged updates as a single
// batched round trip. Updates are keyed by the debtor row id; a nil payment
// date leaves last_payment_date untouched.
func (m *PostgresDBManager) ApplyLedgerUpdates(updates []models.LedgerUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	query := `
	UPDATE debtor_accounts
	SET outstanding_balance = $1,
		last_payment_amount = $2,
		last_payment_date = COALESCE($3, last_payment_date),
		updated_at = NOW()
	WHERE id = $4;`

	batch := &pgx.Batch{}
	for _, update := range updates {
		batch.Queue(query, update.Balance, update.Amount, update.PaymentDate, update.DebtorID)
	}

	results := m.dbpool.SendBatch(m.ctx, batch)
	defer results.Close()

	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("error applying ledger update batch: %w", err)
		}
	}

	return nil
}

// CreateDebtorsWithDefaults inserts missing debtor rows from staged updates.
// Only used under the create-with-defaults unmatched policy; conflicts on
// account_number are skipped so a concurrent insert cannot fail the chunk.
func (m *PostgresDBManager) CreateDebtorsWithDefaults(updates []models.LedgerUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO debtor_accounts (id, account_number, outstanding_balance, last_payment_amount, last_payment_date, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (account_number) DO NOTHING;`

	batch := &pgx.Batch{}
	for _, update := range updates {
		batch.Queue(query, uuid.New(), update.AccountNumber, update.Balance, update.Amount, update.PaymentDate)
	}

	results := m.dbpool.SendBatch(m.ctx, batch)
	defer results.Close()

	created := 0
	for range updates {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("error creating debtor accounts batch: %w", err)
		}
		created += int(tag.RowsAffected())
	}

	return created, nil
}

func (m *PostgresDBManager) UpsertAgentPerformance(agentID uuid.UUID, monthYear string, amount, defaultTarget decimal.Decimal) error {
	query := `
	INSERT INTO agent_performance (agent_id, month_year, collected_amount, target)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (agent_id, month_year)
	DO UPDATE SET collected_amount = agent_performance.collected_amount + EXCLUDED.collected_amount;`

	_, err := m.dbpool.Exec(m.ctx, query, agentID, monthYear, amount, defaultTarget)
	if err != nil {
		return fmt.Errorf("error upserting agent performance for agent %s: %w", agentID, err)
	}

	return nil
}

// GetWeeklyBatch returns the batch for the given week start, or nil when no
// batch exists yet.
func (m *PostgresDBManager) GetWeeklyBatch(weekStart time.Time) (*models.UploadBatch, error) {
	query := `
	SELECT id, week_start, created_by, created_at
	FROM upload_batches
	WHERE week_start = $1;`

	batch := &models.UploadBatch{}
	err := m.dbpool.QueryRow(m.ctx, query, weekStart).Scan(&batch.ID, &batch.WeekStart, &batch.CreatedBy, &batch.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding weekly batch: %w", err)
	}

	return batch, nil
}

func (m *PostgresDBManager) CreateWeeklyBatch(weekStart time.Time, actorID uuid.UUID) (*models.UploadBatch, error) {
	query := `
	INSERT INTO upload_batches (week_start, created_by)
	VALUES ($1, $2)
	ON CONFLICT (week_start) DO UPDATE SET week_start = EXCLUDED.week_start
	RETURNING id, week_start, created_by, created_at;`

	batch := &models.UploadBatch{}
	err := m.dbpool.QueryRow(m.ctx, query, weekStart, actorID).Scan(&batch.ID, &batch.WeekStart, &batch.CreatedBy, &batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating weekly batch: %w", err)
	}

	return batch, nil
}

func (m *PostgresDBManager) InsertHistoryEntries(batchID uuid.UUID, entries []models.PaymentHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// The column order here must match the payment_history_entries table.
	columnNames := []string{
		"id", "batch_id", "record_id", "account_number", "amount", "balance", "payment_date", "created_at",
	}

	copySource := pgx.CopyFromSlice(len(entries), func(i int) ([]interface{}, error) {
		entry := entries[i]
		return []interface{}{entry.ID, batchID, entry.RecordID, entry.AccountNumber, entry.Amount, entry.Balance, entry.PaymentDate, entry.CreatedAt},
			nil
	})

	_, err := m.dbpool.CopyFrom(
		m.ctx,
		pgx.Identifier{"payment_history_entries"},
		columnNames,
		copySource,
	)
	if err != nil {
		return fmt.Errorf("error inserting history entries for batch %s: %w", batchID, err)
	}

	return nil
}

func (m *PostgresDBManager) MarkRecordsProcessed(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
	UPDATE payment_records
	SET processing_status = 'processed',
		processed_at = NOW()
	WHERE id = ANY($1);`

	_, err := m.dbpool.Exec(m.ctx, query, ids)
	if err != nil {
		return fmt.Errorf("error marking records processed: %w", err)
	}

	return nil
}

// ResetRecordsPending is the explicit reversal hook for records that should
// be picked up again by a later run.
func (m *PostgresDBManager) ResetRecordsPending(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
	UPDATE payment_records
	SET processing_status = 'pending',
		processed_at = NULL
	WHERE id = ANY($1);`

	_, err := m.dbpool.Exec(m.ctx, query, ids)
	if err != nil {
		return fmt.Errorf("error resetting records to pending: %w", err)
	}

	return nil
}

// TryAcquireFileLock takes a session-level advisory lock on a dedicated
// connection, held until ReleaseFileLock. A false return means another run
// already owns the file.
func (m *PostgresDBManager) TryAcquireFileLock(key int64) (bool, error) {
	conn, err := m.dbpool.Acquire(m.ctx)
	if err != nil {
		return false, fmt.Errorf("error acquiring connection for advisory lock: %w", err)
	}

	var locked bool
	err = conn.QueryRow(m.ctx, `SELECT pg_try_advisory_lock($1);`, key).Scan(&locked)
	if err != nil {
		conn.Release()
		return false, fmt.Errorf("error taking advisory lock %d: %w", key, err)
	}

	if !locked {
		conn.Release()
		return false, nil
	}

	m.lockConn = conn
	return true, nil
}

func (m *PostgresDBManager) ReleaseFileLock(key int64) error {
	if m.lockConn == nil {
		return nil
	}
	defer func() {
		m.lockConn.Release()
		m.lockConn = nil
	}()

	_, err := m.lockConn.Exec(m.ctx, `SELECT pg_advisory_unlock($1);`, key)
	if err != nil {
		return fmt.Errorf("error releasing advisory lock %d: %w", key, err)
	}

	return nil
}
