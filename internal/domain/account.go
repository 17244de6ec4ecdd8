package domain

import "time"

// Account holds the spendable diamond balance and the xp counter of an owner.
type Account struct {
	OwnerID   string
	Diamonds  int64
	XP        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryKind classifies ledger entries.
type EntryKind string

const (
	EntryKindCharge EntryKind = "CHARGE"
	EntryKindRefund EntryKind = "REFUND"
	EntryKindOther  EntryKind = "OTHER"
)

// LedgerEntry is an append-only record of a balance mutation. Amount is
// negative for debits.
type LedgerEntry struct {
	ID           string
	AccountID    string
	Amount       int64
	Kind         EntryKind
	Description  string
	JobID        string
	BalanceAfter int64
	CreatedAt    time.Time
}
