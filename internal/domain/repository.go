package domain

import (
	"context"
	"time"
)

// AccountRepository persists balances and the ledger log.
type AccountRepository interface {
	GetAccount(ctx context.Context, ownerID string) (*Account, error)
	EnsureAccount(ctx context.Context, ownerID string) (*Account, error)
	// AdjustBalance applies delta and returns the new balance. A negative delta
	// only applies when the balance covers it; otherwise ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, ownerID string, delta int64) (int64, error)
	AddXP(ctx context.Context, ownerID string, xp int64) error
	// AppendEntry fails with ErrDuplicateEntry when the job already carries an
	// entry of the same CHARGE or REFUND kind.
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
	ListEntries(ctx context.Context, ownerID string, limit int) ([]LedgerEntry, error)
	ListJobEntries(ctx context.Context, jobID string) ([]LedgerEntry, error)
}

// JobRepository persists jobs and guards their state transitions.
type JobRepository interface {
	// Insert stores a PENDING job. It reports false, without error, when a job
	// with the same id already exists.
	Insert(ctx context.Context, job *Job) (bool, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Job, error)
	SetProgress(ctx context.Context, jobID, progress string) error
	// MarkSucceeded and MarkFailed only move PENDING jobs and report whether
	// the transition happened.
	MarkSucceeded(ctx context.Context, jobID, resultRef string) (bool, error)
	MarkFailed(ctx context.Context, jobID, reason string) (bool, error)
	// ClaimLease takes a free or expired lease for owner. It fails with
	// ErrLeaseHeld while any live lease exists and ErrJobTerminal once the
	// job is finished.
	ClaimLease(ctx context.Context, jobID, owner string, ttl time.Duration) (*Job, error)
	// RenewLease extends the lease by ttl and reports whether owner still
	// holds it on a PENDING job.
	RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, jobID, owner string) error
	ListStalled(ctx context.Context, unclaimedBefore time.Time, limit int) ([]string, error)
	LatestSucceeded(ctx context.Context, ownerID string, since time.Time) (*Job, error)
}

// Repositories groups the repositories sharing one unit of work.
type Repositories interface {
	Accounts() AccountRepository
	Jobs() JobRepository
}

// Store opens units of work. fn runs inside a single transaction; returning an
// error rolls every mutation made through repos back.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}
