package services

import (
	"database/sql"

	"github.com/bothive/backend/internal/config"
)

// BillingPolicy decides how deployment creation is financed. The charge runs
// inside the creation transaction, so a failed insert rolls the debit back
// with it.
type BillingPolicy interface {
	ChargeCreate(tx *sql.Tx, accountID, plan, reference string) error
}

// MeteredBilling debits the plan cost from the owner's coin balance.
type MeteredBilling struct {
	ledger *CoinLedgerService
	plans  *config.PlanConfig
}

func NewMeteredBilling(ledger *CoinLedgerService, plans *config.PlanConfig) *MeteredBilling {
	return &MeteredBilling{ledger: ledger, plans: plans}
}

func (m *MeteredBilling) ChargeCreate(tx *sql.Tx, accountID, plan, reference string) error {
	cost := m.plans.CoinCost(plan)
	if cost == 0 {
		return nil
	}
	_, err := m.ledger.DebitTx(tx, accountID, cost, reference)
	return err
}

// UnmeteredBilling skips both the balance check and the debit. Selected for
// admin-capable callers.
type UnmeteredBilling struct{}

func NewUnmeteredBilling() *UnmeteredBilling {
	return &UnmeteredBilling{}
}

func (u *UnmeteredBilling) ChargeCreate(tx *sql.Tx, accountID, plan, reference string) error {
	return nil
}
