package repo

import (
	"context"
	"fmt"

	"genforge/internal/domain"
	"genforge/internal/infra"
	"genforge/internal/sqlinline"
)

// AccountRepositoryPG implements domain.AccountRepository.
type AccountRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAccountRepository creates a new account repository backed by PostgreSQL.
func NewAccountRepository(sql infra.SQLExecutor) *AccountRepositoryPG {
	return &AccountRepositoryPG{sql: sql}
}

func (r *AccountRepositoryPG) GetAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectAccount, ownerID)
	var a domain.Account
	if err := row.Scan(&a.OwnerID, &a.Diamonds, &a.XP, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr("select account", err)
	}
	return &a, nil
}

func (r *AccountRepositoryPG) EnsureAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QEnsureAccount, ownerID)
	var a domain.Account
	if err := row.Scan(&a.OwnerID, &a.Diamonds, &a.XP, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, storeErr("ensure account", err)
	}
	return &a, nil
}

func (r *AccountRepositoryPG) AdjustBalance(ctx context.Context, ownerID string, delta int64) (int64, error) {
	switch {
	case delta < 0:
		var balance int64
		if err := r.sql.QueryRow(ctx, sqlinline.QDebitAccount, ownerID, -delta).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return 0, domain.ErrInsufficientFunds
			}
			return 0, storeErr("debit account", err)
		}
		return balance, nil
	case delta > 0:
		var balance int64
		if err := r.sql.QueryRow(ctx, sqlinline.QCreditAccount, ownerID, delta).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return 0, domain.ErrNotFound
			}
			return 0, storeErr("credit account", err)
		}
		return balance, nil
	default:
		a, err := r.GetAccount(ctx, ownerID)
		if err != nil {
			return 0, err
		}
		return a.Diamonds, nil
	}
}

func (r *AccountRepositoryPG) AddXP(ctx context.Context, ownerID string, xp int64) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QAddAccountXP, ownerID, xp)
	if err != nil {
		return storeErr("add xp", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AccountRepositoryPG) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e == nil {
		return fmt.Errorf("%w: nil ledger entry", domain.ErrInvalidInput)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertLedgerEntry,
		e.ID,
		e.AccountID,
		e.Amount,
		string(e.Kind),
		e.Description,
		e.JobID,
		e.BalanceAfter,
	)
	if err := row.Scan(&e.CreatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		return storeErr("insert ledger entry", err)
	}
	return nil
}

func (r *AccountRepositoryPG) ListEntries(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectLedgerEntriesByAccount, ownerID, limit)
	if err != nil {
		return nil, storeErr("list ledger entries", err)
	}
	return collectEntries(rows)
}

func (r *AccountRepositoryPG) ListJobEntries(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectLedgerEntriesByJob, jobID)
	if err != nil {
		return nil, storeErr("list job entries", err)
	}
	return collectEntries(rows)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectEntries(rows rowsScanner) ([]domain.LedgerEntry, error) {
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &kind, &e.Description, &e.JobID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, storeErr("scan ledger entry", err)
		}
		e.Kind = domain.EntryKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate ledger entries", err)
	}
	return out, nil
}

var _ domain.AccountRepository = (*AccountRepositoryPG)(nil)
