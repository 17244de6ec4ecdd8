package admission

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"genforge/internal/adapter/memstore"
	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/queue"
)

type recordingTrigger struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingTrigger) Enqueue(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
	return r.err
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

var payload = json.RawMessage(`{"prompt":"a lighthouse at dusk"}`)

func newGateway(store *memstore.Store, trigger queue.Trigger) *Gateway {
	return NewGateway(store, billing.NewLedger(store, zerolog.Nop()), trigger, ValidateParams, zerolog.Nop())
}

func balance(t *testing.T, store *memstore.Store, owner string) int64 {
	t.Helper()
	acct, err := store.Accounts().GetAccount(context.Background(), owner)
	if err != nil {
		t.Fatalf("GetAccount error: %v", err)
	}
	return acct.Diamonds
}

func TestSubmitJobChargesAndTriggers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Seed("owner-1", 10)
	trigger := &recordingTrigger{}
	gw := newGateway(store, trigger)

	receipt, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", Payload: payload, Cost: 4})
	if err != nil {
		t.Fatalf("SubmitJob error: %v", err)
	}
	if receipt.BalanceAfter != 6 || receipt.Duplicate {
		t.Fatalf("receipt = %+v", receipt)
	}
	if err := domain.ValidateJobID(receipt.JobID); err != nil {
		t.Fatalf("minted id invalid: %v", err)
	}
	job, err := store.Jobs().Get(ctx, receipt.JobID)
	if err != nil || job.Status != domain.JobStatusPending || job.Cost != 4 {
		t.Fatalf("job = %+v, %v", job, err)
	}
	entries := store.Entries()
	if len(entries) != 1 || entries[0].Kind != domain.EntryKindCharge || entries[0].Amount != -4 || entries[0].JobID != receipt.JobID {
		t.Fatalf("entries = %+v", entries)
	}
	if trigger.count() != 1 || trigger.ids[0] != receipt.JobID {
		t.Fatalf("trigger ids = %v", trigger.ids)
	}
}

func TestSubmitJobInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Seed("owner-1", 3)
	trigger := &recordingTrigger{}
	gw := newGateway(store, trigger)

	if _, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", Payload: payload, Cost: 4}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("SubmitJob error = %v, want ErrInsufficientFunds", err)
	}
	if _, err := gw.SubmitJob(ctx, Request{OwnerID: "nobody", Payload: payload, Cost: 1}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("SubmitJob for unknown account error = %v, want ErrInsufficientFunds", err)
	}
	if got := balance(t, store, "owner-1"); got != 3 {
		t.Fatalf("balance = %d, want 3", got)
	}
	if len(store.Entries()) != 0 || trigger.count() != 0 {
		t.Fatal("rejected admission must not mutate or trigger")
	}
}

func TestSubmitJobStoreFaultLeavesNoCharge(t *testing.T) {
	for _, op := range []string{"jobs.insert", "accounts.adjust_balance", "accounts.append_entry"} {
		t.Run(op, func(t *testing.T) {
			ctx := context.Background()
			store := memstore.New()
			store.Seed("owner-1", 10)
			store.InjectFault(op, domain.ErrStoreUnavailable)
			trigger := &recordingTrigger{}
			gw := newGateway(store, trigger)

			jobID := domain.NewJobID()
			_, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", JobID: jobID, Payload: payload, Cost: 4})
			if !errors.Is(err, domain.ErrStoreUnavailable) {
				t.Fatalf("SubmitJob error = %v, want ErrStoreUnavailable", err)
			}
			if got := balance(t, store, "owner-1"); got != 10 {
				t.Fatalf("balance = %d, want 10", got)
			}
			if _, err := store.Jobs().Get(ctx, jobID); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("job must not exist, got %v", err)
			}
			if len(store.Entries()) != 0 || trigger.count() != 0 {
				t.Fatal("failed admission left side effects")
			}
		})
	}
}

func TestSubmitJobConcurrentNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Seed("owner-1", 10)
	trigger := &recordingTrigger{}
	gw := newGateway(store, trigger)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", Payload: payload, Cost: 3})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 3 {
		t.Fatalf("accepted = %d, want 3", accepted)
	}
	if got := balance(t, store, "owner-1"); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
	if n := len(store.Entries()); n != 3 {
		t.Fatalf("entries = %d, want 3", n)
	}
}

func TestSubmitJobDuplicateIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Seed("owner-1", 10)
	store.Seed("owner-2", 10)
	trigger := &recordingTrigger{}
	gw := newGateway(store, trigger)

	jobID := domain.NewJobID()
	first, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", JobID: jobID, Payload: payload, Cost: 4})
	if err != nil {
		t.Fatalf("first SubmitJob error: %v", err)
	}
	again, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", JobID: jobID, Payload: payload, Cost: 4})
	if err != nil {
		t.Fatalf("second SubmitJob error: %v", err)
	}
	if !again.Duplicate || again.JobID != first.JobID || again.BalanceAfter != 6 {
		t.Fatalf("duplicate receipt = %+v", again)
	}
	if got := balance(t, store, "owner-1"); got != 6 {
		t.Fatalf("balance = %d, want 6 (charged once)", got)
	}
	if trigger.count() != 1 {
		t.Fatalf("trigger count = %d, want 1", trigger.count())
	}

	if _, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-2", JobID: jobID, Payload: payload, Cost: 4}); !errors.Is(err, domain.ErrJobConflict) {
		t.Fatalf("foreign owner error = %v, want ErrJobConflict", err)
	}
	if got := balance(t, store, "owner-2"); got != 10 {
		t.Fatalf("owner-2 balance = %d, want 10", got)
	}
}

func TestSubmitJobTriggerFailureStillAdmits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Seed("owner-1", 10)
	trigger := &recordingTrigger{err: errors.New("broker unreachable")}
	gw := newGateway(store, trigger)

	receipt, err := gw.SubmitJob(ctx, Request{OwnerID: "owner-1", Payload: payload, Cost: 2})
	if err != nil {
		t.Fatalf("SubmitJob error: %v", err)
	}
	if _, err := store.Jobs().Get(ctx, receipt.JobID); err != nil {
		t.Fatalf("job must be durable despite trigger failure: %v", err)
	}
}

func TestSubmitJobRejectsInvalidInput(t *testing.T) {
	store := memstore.New()
	store.Seed("owner-1", 10)
	gw := newGateway(store, &recordingTrigger{})

	tests := []struct {
		name string
		req  Request
	}{
		{name: "zero cost", req: Request{OwnerID: "owner-1", Payload: payload, Cost: 0}},
		{name: "missing owner", req: Request{Payload: payload, Cost: 1}},
		{name: "not json", req: Request{OwnerID: "owner-1", Payload: json.RawMessage("{"), Cost: 1}},
		{name: "missing prompt", req: Request{OwnerID: "owner-1", Payload: json.RawMessage(`{"style":"ink"}`), Cost: 1}},
		{name: "bad job id", req: Request{OwnerID: "owner-1", JobID: "img_123", Payload: payload, Cost: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gw.SubmitJob(context.Background(), tt.req); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("SubmitJob error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if len(store.Entries()) != 0 {
		t.Fatal("invalid requests must not charge")
	}
}
