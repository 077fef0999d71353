package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RecordStatusPending   = "pending"
	RecordStatusProcessed = "processed"
	RecordStatusFailed    = "failed"
)

// RunState is the lifecycle state of an allocation run.
type RunState string

const (
	StateRunning  RunState = "running"
	StatePaused   RunState = "paused"
	StateAborted  RunState = "aborted"
	StateComplete RunState = "complete"
)

// RecordPayload carries the semi-structured fields lifted out of the source
// file line. PaymentDate keeps the raw source formatting; callers must go
// through ParsePaymentDate instead of reading the string directly.
type RecordPayload struct {
	PaymentDate string `json:"payment_date,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Method      string `json:"method,omitempty"`
	SourceLine  int    `json:"source_line,omitempty"`
}

// ParsePaymentDate accepts only the 8-digit YYYYMMDD source form. Anything
// else (empty, "N/A", partial or non-numeric values) reports no date.
func (p RecordPayload) ParsePaymentDate() (time.Time, bool) {
	raw := strings.TrimSpace(p.PaymentDate)
	if len(raw) != 8 {
		return time.Time{}, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	date, err := time.Parse("20060102", raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

type PaymentRecord struct {
	ID               uuid.UUID       `json:"id"`
	AccountNumber    string          `json:"account_number"`
	Amount           decimal.Decimal `json:"amount"`
	OutstandingTotal decimal.Decimal `json:"outstanding_balance_total"`
	Payload          RecordPayload   `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
	PaymentFileID    uuid.UUID       `json:"payment_file_id"`
	Status           string          `json:"processing_status"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
}

type DebtorAccount struct {
	ID                 uuid.UUID       `json:"id"`
	AccountNumber      string          `json:"account_number"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	LastPaymentAmount  decimal.Decimal `json:"last_payment_amount"`
	LastPaymentDate    *time.Time      `json:"last_payment_date,omitempty"`
	AssignedAgentID    *uuid.UUID      `json:"assigned_agent_id,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AgentPerformance is keyed by (agent_id, month_year); CollectedAmount is an
// additive accumulator upserted on every contribution.
type AgentPerformance struct {
	AgentID         uuid.UUID       `json:"agent_id"`
	MonthYear       string          `json:"month_year"`
	CollectedAmount decimal.Decimal `json:"collected_amount"`
	Target          decimal.Decimal `json:"target"`
}

// LedgerUpdate is one staged balance change. It is keyed by the debtor row id
// so duplicate or reused account numbers can never make the write ambiguous.
type LedgerUpdate struct {
	DebtorID        uuid.UUID
	AccountNumber   string
	Balance         decimal.Decimal
	Amount          decimal.Decimal
	PaymentDate     *time.Time
	AssignedAgentID *uuid.UUID
}

type AllocationError struct {
	AccountNumber string `json:"account_number"`
	Message       string `json:"message"`
}

func (e AllocationError) Error() string {
	return fmt.Sprintf("account %s: %s", e.AccountNumber, e.Message)
}

// UploadBatch is the weekly audit container for payment history entries.
type UploadBatch struct {
	ID        uuid.UUID `json:"id"`
	WeekStart time.Time `json:"week_start"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentHistoryEntry is a normalized per-account snapshot derived from a
// processed record, independent of the live ledger fields.
type PaymentHistoryEntry struct {
	ID            uuid.UUID       `json:"id"`
	BatchID       uuid.UUID       `json:"batch_id"`
	RecordID      uuid.UUID       `json:"record_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	PaymentDate   *time.Time      `json:"payment_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AllocationProgress is the cumulative, resumable snapshot of a run. It is an
// immutable value: stages return their own deltas and callers fold them in
// with Merge.
type AllocationProgress struct {
	TotalProcessed    int               `json:"total_processed"`
	AccountsUpdated   int               `json:"accounts_updated"`
	AccountsCreated   int               `json:"accounts_created"`
	FailedAllocations int               `json:"failed_allocations"`
	TotalTimeMs       int64             `json:"total_time_ms"`
	IsComplete        bool              `json:"is_complete"`
	CurrentOffset     int               `json:"current_offset"`
	State             RunState          `json:"state"`
	Errors            []AllocationError `json:"errors,omitempty"`
}

// Merge folds a later snapshot into this one: counters and elapsed time are
// summed, errors appended, and positional fields (offset, state, completion)
// taken from the newer snapshot.
func (p AllocationProgress) Merge(other AllocationProgress) AllocationProgress {
	merged := AllocationProgress{
		TotalProcessed:    p.TotalProcessed + other.TotalProcessed,
		AccountsUpdated:   p.AccountsUpdated + other.AccountsUpdated,
		AccountsCreated:   p.AccountsCreated + other.AccountsCreated,
		FailedAllocations: p.FailedAllocations + other.FailedAllocations,
		TotalTimeMs:       p.TotalTimeMs + other.TotalTimeMs,
		IsComplete:        other.IsComplete,
		CurrentOffset:     other.CurrentOffset,
		State:             other.State,
	}
	merged.Errors = append(merged.Errors, p.Errors...)
	merged.Errors = append(merged.Errors, other.Errors...)
	if merged.State == "" {
		merged.State = p.State
	}
	return merged
}

// CapErrors bounds the error list so a badly malformed file cannot grow the
// snapshot without limit.
func (p AllocationProgress) CapErrors(max int) AllocationProgress {
	if max > 0 && len(p.Errors) > max {
		p.Errors = p.Errors[:max]
	}
	return p
}
