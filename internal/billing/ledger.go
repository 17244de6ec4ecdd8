// Package billing owns every mutation of account balances. Each balance change
// is paired with an append-only ledger entry inside the caller's unit of work.
package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
)

// MaxDescriptionLen bounds ledger descriptions, in runes.
const MaxDescriptionLen = 200

// Entry describes one balance mutation. Amount is always positive; the
// direction comes from the operation.
type Entry struct {
	OwnerID     string
	Amount      int64
	Kind        domain.EntryKind
	Description string
	JobID       string
}

// Ledger applies debits and credits.
type Ledger struct {
	store  domain.Store
	logger zerolog.Logger
}

func NewLedger(store domain.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Debit subtracts e.Amount when the balance covers it and records the entry.
// It fails with ErrInsufficientFunds otherwise and never goes negative.
func (l *Ledger) Debit(ctx context.Context, repos domain.Repositories, e Entry) (int64, error) {
	if err := validate(e); err != nil {
		return 0, err
	}
	balance, err := repos.Accounts().AdjustBalance(ctx, e.OwnerID, -e.Amount)
	if err != nil {
		return 0, err
	}
	if err := l.record(ctx, repos, e, -e.Amount, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds e.Amount and records the entry.
func (l *Ledger) Credit(ctx context.Context, repos domain.Repositories, e Entry) (int64, error) {
	if err := validate(e); err != nil {
		return 0, err
	}
	balance, err := repos.Accounts().AdjustBalance(ctx, e.OwnerID, e.Amount)
	if err != nil {
		return 0, err
	}
	if err := l.record(ctx, repos, e, e.Amount, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// AwardXP increments the owner's xp counter.
func (l *Ledger) AwardXP(ctx context.Context, repos domain.Repositories, ownerID string, xp int64) error {
	if xp <= 0 {
		return nil
	}
	return repos.Accounts().AddXP(ctx, ownerID, xp)
}

// Balance returns the current account state.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (*domain.Account, error) {
	return l.store.Accounts().GetAccount(ctx, ownerID)
}

// History returns the newest entries first.
func (l *Ledger) History(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.Accounts().ListEntries(ctx, ownerID, limit)
}

// TopUp credits diamonds outside of any job, creating the account when needed.
func (l *Ledger) TopUp(ctx context.Context, ownerID string, amount int64, description string) (int64, error) {
	var balance int64
	err := l.store.WithinTx(ctx, func(repos domain.Repositories) error {
		if _, err := repos.Accounts().EnsureAccount(ctx, ownerID); err != nil {
			return err
		}
		b, err := l.Credit(ctx, repos, Entry{
			OwnerID:     ownerID,
			Amount:      amount,
			Kind:        domain.EntryKindOther,
			Description: description,
		})
		balance = b
		return err
	})
	if err != nil {
		return 0, err
	}
	l.logger.Info().Str("owner_id", ownerID).Int64("amount", amount).Int64("balance", balance).Msg("billing: top up applied")
	return balance, nil
}

func (l *Ledger) record(ctx context.Context, repos domain.Repositories, e Entry, signed, balance int64) error {
	entry := &domain.LedgerEntry{
		ID:           domain.NewEntryID(),
		AccountID:    e.OwnerID,
		Amount:       signed,
		Kind:         e.Kind,
		Description:  Truncate(e.Description, MaxDescriptionLen),
		JobID:        e.JobID,
		BalanceAfter: balance,
	}
	if err := repos.Accounts().AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append %s entry: %w", strings.ToLower(string(e.Kind)), err)
	}
	return nil
}

func validate(e Entry) error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrInvalidInput)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	switch e.Kind {
	case domain.EntryKindCharge, domain.EntryKindRefund, domain.EntryKindOther:
	default:
		return fmt.Errorf("%w: unknown entry kind %q", domain.ErrInvalidInput, e.Kind)
	}
	return nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
