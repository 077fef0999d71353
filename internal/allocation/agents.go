package allocation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/database"
	"github.com/recoverly/payment-allocation/internal/models"
)

// AgentAccumulator sums collected amounts per assigned agent across a page
// and upserts the current month's performance rows. This side channel is
// best-effort: failures are logged and never block the ledger path.
type AgentAccumulator struct {
	dbManager     database.DBManager
	log           *zap.SugaredLogger
	defaultTarget decimal.Decimal
}

func NewAgentAccumulator(dbManager database.DBManager, log *zap.SugaredLogger, defaultTarget decimal.Decimal) *AgentAccumulator {
	return &AgentAccumulator{
		dbManager:     dbManager,
		log:           log,
		defaultTarget: defaultTarget,
	}
}

// Accumulate contributes every record whose matched debtor has an assigned
// agent and whose amount is positive. Returns the number of agent rows
// upserted.
func (a *AgentAccumulator) Accumulate(records []*models.PaymentRecord, debtors map[string]*models.DebtorAccount, monthYear string) int {
	totals := make(map[uuid.UUID]decimal.Decimal)
	for _, record := range records {
		debtor, matched := debtors[record.AccountNumber]
		if !matched || debtor.AssignedAgentID == nil {
			continue
		}
		if !record.Amount.IsPositive() {
			continue
		}
		totals[*debtor.AssignedAgentID] = totals[*debtor.AssignedAgentID].Add(record.Amount)
	}

	upserted := 0
	for agentID, amount := range totals {
		err := a.dbManager.UpsertAgentPerformance(agentID, monthYear, amount, a.defaultTarget)
		if err != nil {
			a.log.Warnf("Agent accumulator: upsert for agent %s failed: %v", agentID, err)
			continue
		}
		upserted++
	}

	return upserted
}
