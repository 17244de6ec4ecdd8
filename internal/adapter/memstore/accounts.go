package memstore

import (
	"context"
	"fmt"

	"genforge/internal/domain"
)

type accountRepo struct{ view view }

func (r accountRepo) GetAccount(_ context.Context, ownerID string) (*domain.Account, error) {
	var out *domain.Account
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("accounts.get"); err != nil {
			return err
		}
		a, ok := st.accounts[ownerID]
		if !ok {
			return domain.ErrNotFound
		}
		c := *a
		out = &c
		return nil
	})
	return out, err
}

func (r accountRepo) EnsureAccount(_ context.Context, ownerID string) (*domain.Account, error) {
	var out *domain.Account
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("accounts.ensure"); err != nil {
			return err
		}
		a, ok := st.accounts[ownerID]
		if !ok {
			now := s.now()
			a = &domain.Account{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
			st.accounts[ownerID] = a
		}
		c := *a
		out = &c
		return nil
	})
	return out, err
}

func (r accountRepo) AdjustBalance(_ context.Context, ownerID string, delta int64) (int64, error) {
	var balance int64
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("accounts.adjust_balance"); err != nil {
			return err
		}
		a, ok := st.accounts[ownerID]
		if !ok {
			if delta < 0 {
				return domain.ErrInsufficientFunds
			}
			return domain.ErrNotFound
		}
		if delta < 0 && a.Diamonds < -delta {
			return domain.ErrInsufficientFunds
		}
		a.Diamonds += delta
		a.UpdatedAt = s.now()
		balance = a.Diamonds
		return nil
	})
	return balance, err
}

func (r accountRepo) AddXP(_ context.Context, ownerID string, xp int64) error {
	return r.view.do(func(st *state, s *Store) error {
		if err := s.fault("accounts.add_xp"); err != nil {
			return err
		}
		a, ok := st.accounts[ownerID]
		if !ok {
			return domain.ErrNotFound
		}
		a.XP += xp
		a.UpdatedAt = s.now()
		return nil
	})
}

func (r accountRepo) AppendEntry(_ context.Context, e *domain.LedgerEntry) error {
	if e == nil {
		return fmt.Errorf("%w: nil ledger entry", domain.ErrInvalidInput)
	}
	return r.view.do(func(st *state, s *Store) error {
		if err := s.fault("accounts.append_entry"); err != nil {
			return err
		}
		if e.JobID != "" && (e.Kind == domain.EntryKindCharge || e.Kind == domain.EntryKindRefund) {
			for _, existing := range st.entries {
				if existing.JobID == e.JobID && existing.Kind == e.Kind {
					return domain.ErrDuplicateEntry
				}
			}
		}
		e.CreatedAt = s.now()
		st.entries = append(st.entries, *e)
		return nil
	})
}

func (r accountRepo) ListEntries(_ context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := r.view.do(func(st *state, s *Store) error {
		for i := len(st.entries) - 1; i >= 0; i-- {
			if st.entries[i].AccountID != ownerID {
				continue
			}
			out = append(out, st.entries[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r accountRepo) ListJobEntries(_ context.Context, jobID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := r.view.do(func(st *state, s *Store) error {
		for _, e := range st.entries {
			if e.JobID == jobID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}
