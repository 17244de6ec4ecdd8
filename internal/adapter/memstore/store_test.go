package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"genforge/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed("owner-1", 10)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(repos domain.Repositories) error {
		if _, err := repos.Accounts().AdjustBalance(ctx, "owner-1", -5); err != nil {
			return err
		}
		if _, err := repos.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "owner-1", Cost: 5}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}
	acct, _ := s.Accounts().GetAccount(ctx, "owner-1")
	if acct.Diamonds != 10 {
		t.Fatalf("balance = %d, want 10 after rollback", acct.Diamonds)
	}
	if _, err := s.Jobs().Get(ctx, "job_a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("job should not exist after rollback, got %v", err)
	}
}

func TestAppendEntryRejectsSecondChargePerJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed("owner-1", 10)
	entry := domain.LedgerEntry{ID: "txn_1", AccountID: "owner-1", Amount: -5, Kind: domain.EntryKindCharge, JobID: "job_a"}
	if err := s.Accounts().AppendEntry(ctx, &entry); err != nil {
		t.Fatalf("AppendEntry error: %v", err)
	}
	again := entry
	again.ID = "txn_2"
	if err := s.Accounts().AppendEntry(ctx, &again); !errors.Is(err, domain.ErrDuplicateEntry) {
		t.Fatalf("AppendEntry error = %v, want ErrDuplicateEntry", err)
	}
	other := domain.LedgerEntry{ID: "txn_3", AccountID: "owner-1", Amount: 100, Kind: domain.EntryKindOther}
	if err := s.Accounts().AppendEntry(ctx, &other); err != nil {
		t.Fatalf("OTHER entries are unrestricted: %v", err)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	s.Seed("owner-1", 10)
	if _, err := s.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "owner-1", Cost: 5}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	job, err := s.Jobs().ClaimLease(ctx, "job_a", "w1", time.Minute)
	if err != nil || job.Attempts != 1 {
		t.Fatalf("first claim = %+v, %v", job, err)
	}
	if _, err := s.Jobs().ClaimLease(ctx, "job_a", "w2", time.Minute); !errors.Is(err, domain.ErrLeaseHeld) {
		t.Fatalf("second claim error = %v, want ErrLeaseHeld", err)
	}

	clock.Advance(2 * time.Minute)
	stalled, _ := s.Jobs().ListStalled(ctx, clock.Now().Add(-time.Hour), 10)
	if len(stalled) != 1 || stalled[0] != "job_a" {
		t.Fatalf("stalled = %v, want [job_a]", stalled)
	}
	job, err = s.Jobs().ClaimLease(ctx, "job_a", "w2", time.Minute)
	if err != nil || job.Attempts != 2 || job.LeaseOwner != "w2" {
		t.Fatalf("takeover claim = %+v, %v", job, err)
	}

	moved, err := s.Jobs().MarkSucceeded(ctx, "job_a", "https://cdn/x.png")
	if err != nil || !moved {
		t.Fatalf("MarkSucceeded = %v, %v", moved, err)
	}
	moved, _ = s.Jobs().MarkFailed(ctx, "job_a", "late failure")
	if moved {
		t.Fatal("terminal job must not transition again")
	}
	if _, err := s.Jobs().ClaimLease(ctx, "job_a", "w3", time.Minute); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("claim on terminal job error = %v, want ErrJobTerminal", err)
	}
}

func TestLiveLeaseIsNeverGrantedTwice(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	s.Seed("owner-1", 10)
	if _, err := s.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "owner-1", Cost: 5}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if _, err := s.Jobs().ClaimLease(ctx, "job_a", "w1", time.Minute); err != nil {
		t.Fatalf("first claim error: %v", err)
	}
	job, err := s.Jobs().ClaimLease(ctx, "job_a", "w1", time.Minute)
	if !errors.Is(err, domain.ErrLeaseHeld) {
		t.Fatalf("same-owner claim error = %v, want ErrLeaseHeld", err)
	}
	if job.Attempts != 1 {
		t.Fatalf("refused claim counted an attempt: %d", job.Attempts)
	}
}

func TestRenewLease(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	s.Seed("owner-1", 10)
	if _, err := s.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "owner-1", Cost: 5}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if _, err := s.Jobs().ClaimLease(ctx, "job_a", "w1", time.Minute); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	clock.Advance(50 * time.Second)
	held, err := s.Jobs().RenewLease(ctx, "job_a", "w1", time.Minute)
	if err != nil || !held {
		t.Fatalf("RenewLease = %v, %v", held, err)
	}
	clock.Advance(50 * time.Second)
	if stalled, _ := s.Jobs().ListStalled(ctx, clock.Now().Add(-time.Hour), 10); len(stalled) != 0 {
		t.Fatalf("renewed lease reported stalled: %v", stalled)
	}
	if held, _ := s.Jobs().RenewLease(ctx, "job_a", "w2", time.Minute); held {
		t.Fatal("a non-owner must not renew")
	}

	clock.Advance(2 * time.Minute)
	if _, err := s.Jobs().ClaimLease(ctx, "job_a", "w2", time.Minute); err != nil {
		t.Fatalf("takeover error: %v", err)
	}
	if held, _ := s.Jobs().RenewLease(ctx, "job_a", "w1", time.Minute); held {
		t.Fatal("the previous owner must not renew after a takeover")
	}
	if _, err := s.Jobs().MarkSucceeded(ctx, "job_a", "ref"); err != nil {
		t.Fatalf("MarkSucceeded error: %v", err)
	}
	if held, _ := s.Jobs().RenewLease(ctx, "job_a", "w2", time.Minute); held {
		t.Fatal("a terminal job has no lease to renew")
	}
}

func TestLatestSucceededRespectsSince(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	s.Seed("owner-1", 10)

	for _, id := range []string{"job_old", "job_new"} {
		if _, err := s.Jobs().Insert(ctx, &domain.Job{ID: id, OwnerID: "owner-1", Cost: 1}); err != nil {
			t.Fatalf("Insert error: %v", err)
		}
		if _, err := s.Jobs().MarkSucceeded(ctx, id, "ref-"+id); err != nil {
			t.Fatalf("MarkSucceeded error: %v", err)
		}
		clock.Advance(time.Minute)
	}

	job, err := s.Jobs().LatestSucceeded(ctx, "owner-1", clock.Now().Add(-90*time.Second))
	if err != nil || job.ID != "job_new" {
		t.Fatalf("LatestSucceeded = %+v, %v; want job_new", job, err)
	}
	if _, err := s.Jobs().LatestSucceeded(ctx, "owner-1", clock.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LatestSucceeded after all jobs error = %v, want ErrNotFound", err)
	}
}

func TestInjectFaultIsConsumedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.InjectFault("jobs.insert", domain.ErrStoreUnavailable)
	if _, err := s.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "o"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Insert error = %v, want injected fault", err)
	}
	if ok, err := s.Jobs().Insert(ctx, &domain.Job{ID: "job_a", OwnerID: "o"}); err != nil || !ok {
		t.Fatalf("second Insert = %v, %v", ok, err)
	}
}
