package models

import (
	"time"
)

type Account struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"` // coins, never negative
	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CoinEntry is one row of the append-only coin movement log. Every balance
// mutation writes exactly one entry inside the same database transaction.
type CoinEntry struct {
	ID           int       `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	Amount       int64     `json:"amount" db:"amount"` // positive for CREDIT, negative for DEBIT
	EntryType    string    `json:"entry_type" db:"entry_type"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reference    string    `json:"reference" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
