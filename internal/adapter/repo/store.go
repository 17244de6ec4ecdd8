package repo

import (
	"context"
	"errors"
	"fmt"

	"genforge/internal/domain"
	"genforge/internal/infra"
)

// Store implements domain.Store on top of PostgreSQL.
type Store struct {
	sql      infra.TxExecutor
	accounts *AccountRepositoryPG
	jobs     *JobRepositoryPG
}

// NewStore wires PostgreSQL repositories around a transaction-capable runner.
func NewStore(sql infra.TxExecutor) *Store {
	return &Store{
		sql:      sql,
		accounts: NewAccountRepository(sql),
		jobs:     NewJobRepository(sql),
	}
}

func (s *Store) Accounts() domain.AccountRepository { return s.accounts }

func (s *Store) Jobs() domain.JobRepository { return s.jobs }

// WithinTx runs fn with repositories bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(repos domain.Repositories) error) error {
	return s.sql.InTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(txRepos{
			accounts: NewAccountRepository(exec),
			jobs:     NewJobRepository(exec),
		})
	})
}

type txRepos struct {
	accounts *AccountRepositoryPG
	jobs     *JobRepositoryPG
}

func (t txRepos) Accounts() domain.AccountRepository { return t.accounts }

func (t txRepos) Jobs() domain.JobRepository { return t.jobs }

// storeErr tags infrastructure failures so callers can tell them apart from
// domain outcomes.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

var _ domain.Store = (*Store)(nil)
