// Package memstore is an in-process domain.Store used by tests and the
// single-binary development mode. Transactions are serialized and applied
// copy-on-commit, so a failing unit of work leaves no trace.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"genforge/internal/domain"
)

type state struct {
	accounts map[string]*domain.Account
	jobs     map[string]*domain.Job
	entries  []domain.LedgerEntry
}

func (s *state) clone() *state {
	out := &state{
		accounts: make(map[string]*domain.Account, len(s.accounts)),
		jobs:     make(map[string]*domain.Job, len(s.jobs)),
		entries:  append([]domain.LedgerEntry(nil), s.entries...),
	}
	for k, v := range s.accounts {
		a := *v
		out.accounts[k] = &a
	}
	for k, v := range s.jobs {
		out.jobs[k] = copyJob(v)
	}
	return out
}

// Store implements domain.Store in memory.
type Store struct {
	mu     sync.Mutex
	state  *state
	now    func() time.Time
	faults map[string][]error
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		state: &state{
			accounts: make(map[string]*domain.Account),
			jobs:     make(map[string]*domain.Job),
		},
		now:    time.Now,
		faults: make(map[string][]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFault makes the next call of op return err. Ops are named
// "<repo>.<method>", e.g. "jobs.insert" or "accounts.append_entry".
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) Accounts() domain.AccountRepository {
	return accountRepo{view: s.autoCommit()}
}

func (s *Store) Jobs() domain.JobRepository {
	return jobRepo{view: s.autoCommit()}
}

// WithinTx applies fn atomically. Repositories handed to fn must not be used
// after it returns.
func (s *Store) WithinTx(ctx context.Context, fn func(repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.state.clone()
	v := &txView{store: s, st: draft}
	if err := fn(txRepos{view: v}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

// view abstracts over auto-commit and transactional access.
type view interface {
	do(fn func(st *state, s *Store) error) error
}

type autoView struct{ store *Store }

func (s *Store) autoCommit() view { return autoView{store: s} }

func (a autoView) do(fn func(st *state, s *Store) error) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return fn(a.store.state, a.store)
}

type txView struct {
	store *Store
	st    *state
}

func (t *txView) do(fn func(st *state, s *Store) error) error {
	return fn(t.st, t.store)
}

type txRepos struct{ view view }

func (t txRepos) Accounts() domain.AccountRepository { return accountRepo{view: t.view} }

func (t txRepos) Jobs() domain.JobRepository { return jobRepo{view: t.view} }

// fault pops an injected error; callers hold the store lock.
func (s *Store) fault(op string) error {
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// Snapshot helpers for assertions.

// Entries returns a copy of every ledger entry in insertion order.
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LedgerEntry(nil), s.state.entries...)
}

// Seed creates or overwrites an account balance.
func (s *Store) Seed(ownerID string, diamonds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.state.accounts[ownerID] = &domain.Account{OwnerID: ownerID, Diamonds: diamonds, CreatedAt: now, UpdatedAt: now}
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

func sortJobsDesc(jobs []domain.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

var _ domain.Store = (*Store)(nil)
