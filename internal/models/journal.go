package models

import (
	"time"
)

const (
	JournalStatusPending = "PENDING"
	JournalStatusSuccess = "SUCCESS"
	JournalStatusFailed  = "FAILED"
)

// JournalEntry records one payment attempt against the gateway, keyed by the
// gateway reference. An entry reaches SUCCESS at most once, atomically with the
// matching coin credit; it never leaves SUCCESS afterwards.
type JournalEntry struct {
	ID        int       `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"` // unique
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"` // minor units (kobo/pesewas)
	Currency  string    `json:"currency" db:"currency"`
	Coins     int64     `json:"coins" db:"coins"`
	Status    string    `json:"status" db:"status"`
	Provider  string    `json:"provider" db:"provider"`
	Channel   string    `json:"channel" db:"channel"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
